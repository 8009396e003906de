package protocol

import "testing"

func TestRequiresEncryption(t *testing.T) {
	plaintext := map[MessageType]bool{
		MsgTypeAuth:          true,
		MsgTypeAuthReply:     true,
		MsgTypeHello:         true,
		MsgTypeRequestKey:    true,
		MsgTypeMyKey:         true,
		MsgTypeNewSessionKey: true,
		MsgTypeTest:          true,
		MsgTypePing:          true,
		MsgTypePong:          true,
		MsgTypeReady:         true,
		MsgTypeAck:           true,
	}

	for _, mt := range AllMessageTypes() {
		want := !plaintext[mt]
		if got := RequiresEncryption(mt); got != want {
			t.Errorf("RequiresEncryption(%s) = %v, want %v", mt, got, want)
		}
	}
}

func TestRequiresEncryptionUnknownTag(t *testing.T) {
	for _, tag := range []uint8{0x17, 0x20, 0x80, 0xFF} {
		if !RequiresEncryption(MessageType(tag)) {
			t.Errorf("RequiresEncryption(0x%02X) = false, unknown tags must default to encrypted", tag)
		}
	}
}

func TestExclusionSetsAreDisjoint(t *testing.T) {
	for i := 0; i < 256; i++ {
		mt := MessageType(i)
		n := 0
		for _, in := range []bool{IsInsecure(mt), IsLocalOnly(mt), IsUnencrypted(mt)} {
			if in {
				n++
			}
		}
		if n > 1 {
			t.Errorf("%s is in %d exclusion sets", mt, n)
		}
		if n == 1 && !mt.Defined() {
			t.Errorf("%s is excluded from encryption but not defined", mt)
		}
	}
}
