package transport

import "testing"

func TestDisconnectReason_String(t *testing.T) {
	if DisconnectedByClient.String() != "disconnected by client" {
		t.Errorf("unexpected by-client text: %s", DisconnectedByClient)
	}
	if DisconnectedByServer.String() != "disconnected by server" {
		t.Errorf("unexpected by-server text: %s", DisconnectedByServer)
	}
	if OtherReason("timed out").String() != "timed out" {
		t.Errorf("other reasons must surface their detail")
	}
	if (DisconnectReason{Code: ReasonOther}).String() != "disconnected" {
		t.Errorf("empty detail needs a fallback text")
	}
}
