package tools_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/bobuhiro11/cpupolicy/tools"
)

func TestSelfTest(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	if n := tools.SelfTest(&buf); n != 0 {
		t.Fatalf("%d scenarios failed:\n%s", n, buf.String())
	}

	if !strings.HasSuffix(buf.String(), " 0 failed\n") {
		t.Errorf("missing summary:\n%s", buf.String())
	}
}
