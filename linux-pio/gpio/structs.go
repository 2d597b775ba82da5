package gpio

import "github.com/yimuchen/GantryMQ/fdaccess"

type Chip struct {
	handle    *fdaccess.Handle
	chipInfo  ChipInfo
	lineNames map[string](uint32)
}

type ChipInfo struct {
	Name  string
	Label string
	Lines uint32
}

type Lines struct {
	handle   *fdaccess.Handle
	numLines uint32
}

type LineInfo struct {
	LineOffset uint32
	Flags      LineFlag
	Name       string
	Consumer   string
}

type LineSpec struct {
	Offset uint32
	Name   string
}

type LineRequest struct {
	Line         LineSpec
	DefaultValue uint8
}
