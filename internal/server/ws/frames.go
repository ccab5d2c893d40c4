package ws

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

type frameFormat int

const (
	formatJSON frameFormat = iota
	formatProto
)

func parseFormat(s string) frameFormat {
	if strings.EqualFold(strings.TrimSpace(s), "proto") {
		return formatProto
	}
	return formatJSON
}

// encodeFrame wraps a bus payload as {"channel": ..., "data": ...}. JSON
// clients get a text frame; proto clients get a binary structpb.Struct.
func encodeFrame(format frameFormat, msg envelope) (int, []byte, error) {
	var data any
	if err := json.Unmarshal(msg.data, &data); err != nil {
		return 0, nil, fmt.Errorf("ws: decode payload: %w", err)
	}
	frame := map[string]any{"channel": msg.channel, "data": data}

	if format == formatJSON {
		b, err := json.Marshal(frame)
		if err != nil {
			return 0, nil, fmt.Errorf("ws: encode json frame: %w", err)
		}
		return websocket.TextMessage, b, nil
	}

	st, err := structpb.NewStruct(frame)
	if err != nil {
		return 0, nil, fmt.Errorf("ws: build proto frame: %w", err)
	}
	b, err := proto.Marshal(st)
	if err != nil {
		return 0, nil, fmt.Errorf("ws: encode proto frame: %w", err)
	}
	return websocket.BinaryMessage, b, nil
}
