package middleware

import (
	"strings"
	"testing"
)

func TestValidateUserID(t *testing.T) {
	tests := []struct {
		name    string
		userID  string
		wantErr bool
	}{
		{"正常 ID", "user_123", false},
		{"空白", "   ", true},
		{"過長", strings.Repeat("a", 101), true},
		{"NULL 字符", "user\x00", true},
		{"注入字符", "user${evil}", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUserID(tt.userID)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateUserID(%q) error = %v, wantErr %v", tt.userID, err, tt.wantErr)
			}
		})
	}
}

func TestValidateMessageID(t *testing.T) {
	tests := []struct {
		name      string
		messageID string
		wantErr   bool
	}{
		{"合法 ObjectID", "65f1a2b3c4d5e6f7a8b9c0d1", false},
		{"長度錯誤", "abc123", true},
		{"非十六進制", "zzzzzzzzzzzzzzzzzzzzzzzz", true},
		{"空白", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMessageID(tt.messageID)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateMessageID(%q) error = %v, wantErr %v", tt.messageID, err, tt.wantErr)
			}
		})
	}
}

func TestValidateMessageIDs(t *testing.T) {
	valid := "65f1a2b3c4d5e6f7a8b9c0d1"

	if err := ValidateMessageIDs([]string{valid}); err != nil {
		t.Errorf("ValidateMessageIDs() error = %v", err)
	}
	if err := ValidateMessageIDs(nil); err == nil {
		t.Error("ValidateMessageIDs(nil) expected error")
	}

	tooMany := make([]string, 501)
	for i := range tooMany {
		tooMany[i] = valid
	}
	if err := ValidateMessageIDs(tooMany); err == nil {
		t.Error("ValidateMessageIDs() accepted batch over limit")
	}
}

func TestValidateMessageContent(t *testing.T) {
	if err := ValidateMessageContent("hello"); err != nil {
		t.Errorf("ValidateMessageContent() error = %v", err)
	}
	if err := ValidateMessageContent(""); err == nil {
		t.Error("empty content accepted")
	}
	if err := ValidateMessageContent(strings.Repeat("a", 10001)); err == nil {
		t.Error("over-length content accepted")
	}
	if err := ValidateMessageContent("bad\x00char"); err == nil {
		t.Error("NULL character accepted")
	}
}
