package healthchecker

import (
	"bytes"
	_ "embed"
)

//go:embed testdata/healthcheck.json
var testPayload []byte

func readTestFile() *bytes.Buffer {
	return bytes.NewBuffer(testPayload)
}
