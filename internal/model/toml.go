package model

import (
	"github.com/pelletier/go-toml/v2"
)

type generalTOML struct {
	Type    string `toml:"type"`
	Version int    `toml:"version"`
}

type frameTOML struct {
	Command     string `toml:"command"`
	ReplyLength *int   `toml:"reply_length"`
	ReplyEnd    string `toml:"reply_end"`
	Validate    string `toml:"validate"`
}

type paramTOML struct {
	Index    int      `toml:"index"`
	Length   *int     `toml:"length"`
	Format   string   `toml:"format"`
	Add      *float64 `toml:"add"`
	Multiply *float64 `toml:"multiply"`
}

type commandTOML struct {
	frameTOML `toml:",inline"`
	Params    map[string]paramTOML `toml:"params"`
}

type statusFieldTOML struct {
	frameTOML `toml:",inline"`
	paramTOML `toml:",inline"`
}

type enumTOML struct {
	Values [][]any `toml:"values"`
}

type modelTOML struct {
	General  generalTOML                `toml:"general"`
	Enums    map[string]enumTOML        `toml:"enums"`
	Init     []frameTOML                `toml:"init"`
	Commands map[string]commandTOML     `toml:"commands"`
	Status   map[string]statusFieldTOML `toml:"status"`
}

func parseTOML(src []byte) (*modelTOML, error) {
	var m modelTOML
	if err := toml.Unmarshal(src, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
