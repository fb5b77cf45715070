package providers

import (
	"strings"
	"testing"
)

const sampleRadclientOutput = `Sent Access-Request Id 110 from 0.0.0.0:45230 to 10.0.0.1:1812 length 75
	User-Name = "001011234567890"
	User-Password = "secret"
Received Access-Accept Id 110 from 10.0.0.1:1812 to 0.0.0.0:45230 length 32
	Framed-IP-Address = 192.0.2.7
	Reply-Message = "welcome"
`

func TestParseRadclientOutput(t *testing.T) {
	sent, received := parseRadclientOutput(sampleRadclientOutput)

	if !strings.HasPrefix(sent, "Sent Access-Request") {
		t.Errorf("sent block does not start with header: %q", sent)
	}
	if !strings.Contains(sent, `User-Name = "001011234567890"`) {
		t.Errorf("sent block missing attribute: %q", sent)
	}
	if strings.Contains(sent, "Framed-IP-Address") {
		t.Errorf("sent block leaked reply attributes: %q", sent)
	}

	if !strings.HasPrefix(received, "Received Access-Accept") {
		t.Errorf("received block does not start with header: %q", received)
	}
	if !strings.Contains(received, "Framed-IP-Address = 192.0.2.7") {
		t.Errorf("received block missing attribute: %q", received)
	}
}

func TestParseRadclientOutputNoReply(t *testing.T) {
	raw := `Sent Access-Request Id 4 from 0.0.0.0:33000 to 10.0.0.1:1812 length 44
	User-Name = "x"
(0) No reply from server for ID 4 socket 3
`
	sent, received := parseRadclientOutput(raw)
	if sent == "" {
		t.Error("expected sent block for timed-out exchange")
	}
	if received != "" {
		t.Errorf("expected empty received block, got %q", received)
	}
}

func TestRadclientCommandMapping(t *testing.T) {
	cases := map[string]string{
		"Access-Request":     "auth",
		"Accounting-Request": "acct",
		"Status-Server":      "status",
		"Disconnect-Request": "disconnect",
		"CoA-Request":        "coa",
	}
	for code, want := range cases {
		got, err := radclientCommand(code)
		if err != nil {
			t.Errorf("radclientCommand(%q) error: %v", code, err)
			continue
		}
		if got != want {
			t.Errorf("radclientCommand(%q) = %q, want %q", code, got, want)
		}
	}
	if _, err := radclientCommand("Mystery-Request"); err == nil {
		t.Error("expected error for unknown packet code")
	}
}
