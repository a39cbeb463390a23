package telephony

import (
	"encoding/base64"
	"encoding/json"
	"strconv"
	"time"
)

func decodeJSON(body []byte, v interface{}) error {
	return json.Unmarshal(body, v)
}

func decodeBase64Signature(sig string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(sig)
}

func base64Encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func parseSecondsDuration(s string) time.Duration {
	secs, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return time.Duration(secs) * time.Second
}
