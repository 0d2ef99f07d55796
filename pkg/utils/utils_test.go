package utils

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateID(t *testing.T) {
	id := GenerateID()
	if len(id) != 32 { // 16 bytes = 32 hex chars
		t.Errorf("GenerateID() returned length %d, want 32", len(id))
	}

	// 验证是有效的十六进制
	for _, c := range id {
		if !strings.ContainsAny(string(c), "0123456789abcdef") {
			t.Errorf("GenerateID() returned invalid hex character: %c", c)
		}
	}

	// 验证每次生成不同的ID
	id2 := GenerateID()
	if id == id2 {
		t.Error("GenerateID() returned same ID twice")
	}
}

func TestFormatTime(t *testing.T) {
	testTime := time.Date(2024, 1, 15, 14, 30, 45, 0, time.UTC)
	formatted := FormatTime(testTime)
	if formatted != "2024-01-15 14:30:45" {
		t.Errorf("FormatTime() = %s, want 2024-01-15 14:30:45", formatted)
	}
}

func TestValidateComment(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{
			name:    "valid comment",
			content: "verificando o servidor agora",
			want:    true,
		},
		{
			name:    "empty comment",
			content: "",
			want:    false,
		},
		{
			name:    "comment at max length",
			content: strings.Repeat("a", 4096),
			want:    true,
		},
		{
			name:    "comment exceeding max length",
			content: strings.Repeat("a", 4097),
			want:    false,
		},
		{
			name:    "comment with special characters",
			content: "atualização: reiniciado às 14h！@#",
			want:    true,
		},
		{
			name:    "comment with newlines",
			content: "Linha 1\nLinha 2\r\nLinha 3",
			want:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ValidateComment(tt.content)
			if got != tt.want {
				t.Errorf("ValidateComment() = %v, want %v", got, tt.want)
			}
		})
	}
}
