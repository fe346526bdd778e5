package signal

import (
	"slices"
	"testing"

	"gnomepatch/internal/classfile"
	"gnomepatch/internal/classfile/classtest"
)

func TestClassifyEndpoints(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://oldschool1.runescape.com/jav_config.ws", CatURL},
		{"http://www.jagex.com/", CatURL},
		{"127.0.0.1", CatHost},
		{"world302.runescape.com", CatHost},
		{"game.example.org", CatHost},
		{"localhost:43594", CatPort},
		{"jav_config.ws", CatNet},
	}
	for _, tt := range tests {
		if cats := ClassifyString(tt.in); !slices.Contains(cats, tt.want) {
			t.Errorf("ClassifyString(%q) = %v, want %s", tt.in, cats, tt.want)
		}
	}
}

func TestClassifyCrypto(t *testing.T) {
	for _, s := range []string{"RSA", "modPow", "mod_pow", "ISAAC seed", "HMAC-SHA1", "crc32 mismatch"} {
		if cats := ClassifyString(s); !slices.Contains(cats, CatEncryption) {
			t.Errorf("expected encryption for %q, got %v", s, cats)
		}
	}
	for _, s := range []string{"skipTraversal", "FocusTraversalPolicy", "Varsity"} {
		if cats := ClassifyString(s); slices.Contains(cats, CatEncryption) {
			t.Errorf("should NOT be encryption: %q, got %v", s, cats)
		}
	}
}

func TestClassifyAuth(t *testing.T) {
	for _, s := range []string{"Password:", "Enter your authenticator code", "login", "sessionid"} {
		if cats := ClassifyString(s); !slices.Contains(cats, CatAuth) {
			t.Errorf("expected auth for %q, got %v", s, cats)
		}
	}
	if cats := ClassifyString("loginScreenTitle"); slices.Contains(cats, CatAuth) {
		t.Errorf("camelCase identifier classified as auth: %v", cats)
	}
}

func TestClassifyKey(t *testing.T) {
	hex := "a3f1c9e47b2d8065f1e3a9c7d5b3f1e9a7c5d3b1f9e7a5c3"
	if cats := ClassifyString(hex); !slices.Contains(cats, CatKey) {
		t.Errorf("expected key for hex blob, got %v", cats)
	}
	if cats := ClassifyString("aVeryLongIdentifierNameHere"); slices.Contains(cats, CatKey) {
		t.Errorf("identifier classified as key: %v", cats)
	}
	if cats := ClassifyString("x"); cats != nil {
		t.Errorf("short string = %v", cats)
	}
}

func TestSeverity(t *testing.T) {
	tests := []struct {
		cats []string
		want string
	}{
		{nil, SeverityLow},
		{[]string{CatNet}, SeverityLow},
		{[]string{CatNet, CatAuth}, SeverityMedium},
		{[]string{CatAuth, CatURL}, SeverityHigh},
	}
	for _, tt := range tests {
		if got := MaxSeverity(tt.cats); got != tt.want {
			t.Errorf("MaxSeverity(%v) = %s, want %s", tt.cats, got, tt.want)
		}
	}
}

func TestScanClass(t *testing.T) {
	b := classtest.New("Net")
	var code []byte
	for _, s := range []string{"plain text", "http://www.jagex.com/", "Password:"} {
		code = append(code, byte(classfile.OpLdcW))
		code = append(code, classtest.U16(b.String(s))...)
		code = append(code, byte(classfile.OpPop))
	}
	code = append(code, byte(classfile.OpReturn))
	b.Method(classtest.Method{Access: classfile.AccStatic, Name: "init", Desc: "()V", MaxStack: 1, Code: code})
	cf, err := classfile.Parse(b.Bytes())
	if err != nil {
		t.Fatal(err)
	}

	hits := ScanClass(cf)
	if len(hits) != 2 {
		t.Fatalf("hits = %+v", hits)
	}
	if hits[0].Value != "http://www.jagex.com/" || hits[0].Offset != 4 || hits[0].Severity != SeverityHigh || hits[0].Method != "init()V" {
		t.Errorf("hit 0 = %+v", hits[0])
	}
	if hits[1].Value != "Password:" || hits[1].Severity != SeverityMedium {
		t.Errorf("hit 1 = %+v", hits[1])
	}
}
