package main

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"io"
	"strings"
)

type wireDictionary struct {
	Version   string            `json:"version"`
	Config    map[string]string `json:"config"`
	Commands  map[string]uint16 `json:"commands"`
	Responses map[string]uint16 `json:"responses"`
}

// maybeInflate decompresses a zlib-framed dictionary, or returns the input
// unchanged if it isn't zlib (the firmware falls back to uncompressed JSON
// if compression fails, see core/dictionary.go's BuildDictionary).
func maybeInflate(data []byte) []byte {
	if len(data) < 2 || data[0] != 0x78 {
		return data
	}
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return data
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return data
	}
	return out
}

// parseDictionaryIDs extracts name->id and id->name tables. Dictionary keys
// are "name format-string" (e.g. "get_clock" or "config_stepper oid=%c
// step_pin=%u ..."); only the bare name is needed to drive the REPL.
func parseDictionaryIDs(raw []byte) (map[string]uint16, map[uint16]string, error) {
	var dict wireDictionary
	if err := json.Unmarshal(raw, &dict); err != nil {
		return nil, nil, err
	}

	commands := make(map[string]uint16, len(dict.Commands))
	for key, id := range dict.Commands {
		commands[bareName(key)] = id
	}

	responses := make(map[uint16]string, len(dict.Responses))
	for key, id := range dict.Responses {
		responses[id] = bareName(key)
	}

	return commands, responses, nil
}

func bareName(key string) string {
	if i := strings.IndexByte(key, ' '); i >= 0 {
		return key[:i]
	}
	return key
}
