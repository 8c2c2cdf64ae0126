package encryption

import (
	"bytes"
	"crypto/rand"
	"strings"
	"testing"
)

func testMasterKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatal(err)
	}
	return key
}

func TestAESCTRRoundTrip(t *testing.T) {
	enc, err := NewAESCTREncryption(testMasterKey(t))
	if err != nil {
		t.Fatal(err)
	}

	testCases := []struct {
		name      string
		plaintext string
	}{
		{"Simple text", "Hello, World!"},
		{"Unicode", "你好世界！🤝"},
		{"Long text", strings.Repeat("This is a long message. ", 100)},
		{"Special chars", "!@#$%^&*()_+-=[]{}|;':\",./<>?"},
		{"Newlines", "Line 1\nLine 2\nLine 3"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ciphertext, err := enc.Encrypt(tc.plaintext)
			if err != nil {
				t.Fatalf("Encryption failed: %v", err)
			}

			if !strings.HasPrefix(ciphertext, "aes256ctr:") {
				t.Errorf("Invalid ciphertext format: missing prefix")
			}
			if ciphertext == tc.plaintext {
				t.Errorf("Ciphertext should differ from plaintext")
			}

			decrypted, err := enc.Decrypt(ciphertext)
			if err != nil {
				t.Fatalf("Decryption failed: %v", err)
			}
			if decrypted != tc.plaintext {
				t.Errorf("Decryption mismatch.\nWant: %s\nGot: %s", tc.plaintext, decrypted)
			}
		})
	}
}

func TestAESCTRUniqueIV(t *testing.T) {
	enc, err := NewAESCTREncryption(testMasterKey(t))
	if err != nil {
		t.Fatal(err)
	}

	// 同一明文加密兩次必須產生不同密文
	first, err := enc.Encrypt("same message")
	if err != nil {
		t.Fatal(err)
	}
	second, err := enc.Encrypt("same message")
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Error("Encrypting same plaintext twice produced identical ciphertext, IV is not random")
	}
}

func TestAESCTRRejectsBadInput(t *testing.T) {
	if _, err := NewAESCTREncryption(make([]byte, 16)); err == nil {
		t.Error("NewAESCTREncryption() accepted 16-byte key")
	}

	enc, err := NewAESCTREncryption(testMasterKey(t))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := enc.Encrypt(""); err == nil {
		t.Error("Encrypt() accepted empty plaintext")
	}
	if _, err := enc.Decrypt("no-prefix-data"); err == nil {
		t.Error("Decrypt() accepted text without prefix")
	}
	if _, err := enc.Decrypt("aes256ctr:%%%invalid%%%"); err == nil {
		t.Error("Decrypt() accepted invalid base64")
	}
	if _, err := enc.Decrypt("aes256ctr:c2hvcnQ="); err == nil {
		t.Error("Decrypt() accepted ciphertext shorter than IV")
	}
}

func TestConversationKeysSymmetric(t *testing.T) {
	ck, err := NewConversationKeys(testMasterKey(t))
	if err != nil {
		t.Fatal(err)
	}

	keyAB, err := ck.KeyFor("userA", "userB")
	if err != nil {
		t.Fatal(err)
	}
	keyBA, err := ck.KeyFor("userB", "userA")
	if err != nil {
		t.Fatal(err)
	}

	// 對話雙方以任意順序查詢都得到同一把密鑰
	if !bytes.Equal(keyAB, keyBA) {
		t.Error("KeyFor() is not symmetric for the same user pair")
	}

	keyAC, err := ck.KeyFor("userA", "userC")
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(keyAB, keyAC) {
		t.Error("KeyFor() returned same key for different conversations")
	}
}

func TestConversationKeysDeterministic(t *testing.T) {
	master := testMasterKey(t)

	ck1, err := NewConversationKeys(master)
	if err != nil {
		t.Fatal(err)
	}
	ck2, err := NewConversationKeys(master)
	if err != nil {
		t.Fatal(err)
	}

	key1, err := ck1.KeyFor("u1", "u2")
	if err != nil {
		t.Fatal(err)
	}
	key2, err := ck2.KeyFor("u1", "u2")
	if err != nil {
		t.Fatal(err)
	}

	// 重啟後重新導出必須得到同一把密鑰，否則歷史消息無法解密
	if !bytes.Equal(key1, key2) {
		t.Error("KeyFor() is not deterministic across manager instances")
	}
}

func TestMessageEncryptionRoundTrip(t *testing.T) {
	ck, err := NewConversationKeys(testMasterKey(t))
	if err != nil {
		t.Fatal(err)
	}
	me := NewMessageEncryption(true, ck)

	encrypted, err := me.EncryptMessage("let's build something", "u1", "u2")
	if err != nil {
		t.Fatalf("EncryptMessage() error = %v", err)
	}
	if !IsEncrypted(encrypted) {
		t.Errorf("EncryptMessage() output not in encrypted format: %s", encrypted)
	}

	// 收件人以相反的用戶順序解密
	decrypted, err := me.DecryptMessage(encrypted, "u2", "u1")
	if err != nil {
		t.Fatalf("DecryptMessage() error = %v", err)
	}
	if decrypted != "let's build something" {
		t.Errorf("DecryptMessage() = %q, want %q", decrypted, "let's build something")
	}
}

func TestMessageEncryptionDisabled(t *testing.T) {
	me := NewMessageEncryption(false, nil)

	stored, err := me.EncryptMessage("hello", "u1", "u2")
	if err != nil {
		t.Fatalf("EncryptMessage() error = %v", err)
	}
	if stored != "plaintext:hello" {
		t.Errorf("EncryptMessage() = %q, want plaintext prefix", stored)
	}

	decrypted, err := me.DecryptMessage(stored, "u1", "u2")
	if err != nil {
		t.Fatalf("DecryptMessage() error = %v", err)
	}
	if decrypted != "hello" {
		t.Errorf("DecryptMessage() = %q, want %q", decrypted, "hello")
	}

	// 不帶前綴的內容視為明文
	passthrough, err := me.DecryptMessage("legacy content", "u1", "u2")
	if err != nil {
		t.Fatalf("DecryptMessage() error = %v", err)
	}
	if passthrough != "legacy content" {
		t.Errorf("DecryptMessage() = %q, want passthrough", passthrough)
	}
}
