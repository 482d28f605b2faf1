package client

import "encoding/json"

func decodeError(data []byte, into *APIError) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, into)
}
