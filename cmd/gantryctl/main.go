// Command gantryctl calls a running gantryd
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/yimuchen/GantryMQ/client"
	"github.com/yimuchen/GantryMQ/logging"
)

const (
	ServerOptionName   = "server"
	ClientIDOptionName = "client-id"

	DefaultServer = "localhost:8989"
	idFileName    = ".gantryctl-id"
)

// defaultClientID returns the ID stored in the home directory, creating it
// on first use, so that claims survive between invocations.
func defaultClientID() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return uuid.New().String()
	}

	path := filepath.Join(home, idFileName)
	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id
		}
	}

	id := uuid.New().String()
	os.WriteFile(path, []byte(id+"\n"), 0600)
	return id
}

// parseArg decodes s as JSON, anything that is not valid JSON is sent as a
// string
func parseArg(s string) json.RawMessage {
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	raw, _ := json.Marshal(s)
	return raw
}

func printMessages(log *logrus.Entry) func([]logging.Record) {
	return func(records []logging.Record) {
		for _, r := range records {
			level, err := logrus.ParseLevel(r.Level)
			if err != nil {
				level = logrus.InfoLevel
			}
			log.WithField("prefix", r.Source).Log(level, r.Message)
		}
	}
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	var out bytes.Buffer
	if err := json.Indent(&out, data, "", "  "); err != nil {
		return err
	}
	out.WriteByte('\n')
	_, err = out.WriteTo(cmd.OutOrStdout())
	return err
}

func newRootCommand() *cobra.Command {
	var address, clientID string
	var c *client.ApiClient

	cmd := &cobra.Command{
		Use:          "gantryctl",
		Short:        "Call instruments served by gantryd",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if clientID == "" {
				clientID = defaultClientID()
			}
			log := logging.GetLogger(logrus.DebugLevel)
			log.Logger.SetOutput(cmd.ErrOrStderr())

			c = client.New(address, clientID)
			c.Messages = printMessages(log)
		},
	}
	cmd.PersistentFlags().StringVar(&address, ServerOptionName, DefaultServer, "Address of gantryd")
	cmd.PersistentFlags().StringVar(&clientID, ClientIDOptionName, "", fmt.Sprintf("Client ID, defaults to the one stored in ~/%s", idFileName))

	cmd.AddCommand(&cobra.Command{
		Use:   "call <instance> <method> [args...]",
		Short: "Call a method. Arguments are JSON values, other text is sent as a string",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var callArgs []interface{}
			for _, a := range args[2:] {
				callArgs = append(callArgs, parseArg(a))
			}
			ret, err := c.Call(args[0], args[1], callArgs...)
			if err != nil {
				return err
			}
			if len(ret) == 0 {
				return nil
			}
			return printJSON(cmd, ret)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "claim",
		Short: "Become the operator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Claim()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "release",
		Short: "Give up the operator claim",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Release()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "operator",
		Short: "Print whether this client is the operator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			is, err := c.IsOperator()
			if err != nil {
				return err
			}
			return printJSON(cmd, is)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "instances",
		Short: "List the served instruments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			infos, err := c.Instances()
			if err != nil {
				return err
			}
			return printJSON(cmd, infos)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "state <instance>",
		Short: "Print the last recorded operations of an instrument",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := c.State(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, records)
		},
	})

	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
