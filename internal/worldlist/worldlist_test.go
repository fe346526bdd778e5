package worldlist

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestEncodeLayout(t *testing.T) {
	got, err := Encode([]Record{{ID: 0x0102, Mask: 0x01020304, Host: "h", Activity: "ab", Location: 7, Population: -2}})
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{
		0, 0, 0, 0x10, // 2 + (2+4+2+3+1+2)
		0, 1,
		0x01, 0x02,
		0x01, 0x02, 0x03, 0x04,
		'h', 0,
		'a', 'b', 0,
		7,
		0xff, 0xfe,
	}
	if !bytes.Equal(got, want) {
		t.Errorf("Encode = % x\nwant     % x", got, want)
	}
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		records []Record
	}{
		{"empty", []Record{}},
		{"single", []Record{Default("127.0.0.1")}},
		{"many", []Record{
			{ID: 1, Mask: 0, Host: "a.example", Activity: "", Location: 0, Population: 0},
			{ID: 65535, Mask: 0xffffffff, Host: "", Activity: "Trade - Grand Exchange", Location: 255, Population: 32767},
			{ID: 302, Mask: MaskOf(Members, PVP), Host: "wörld.example", Activity: "日本語", Location: 3, Population: -1},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Encode(tt.records)
			if err != nil {
				t.Fatal(err)
			}
			if got := uint32(len(b) - 4); got != PayloadSize(tt.records) {
				t.Errorf("payload size %d, body %d", PayloadSize(tt.records), got)
			}
			got, err := Decode(b)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(tt.records) {
				t.Fatalf("decoded %d records, want %d", len(got), len(tt.records))
			}
			for i := range got {
				if got[i] != tt.records[i] {
					t.Errorf("record %d = %+v, want %+v", i, got[i], tt.records[i])
				}
			}
		})
	}
}

func TestEncodeRejectsNUL(t *testing.T) {
	for _, r := range []Record{{Host: "a\x00b"}, {Activity: "\x00"}} {
		if _, err := Encode([]Record{r}); !errors.Is(err, ErrEmbeddedNUL) {
			t.Errorf("Encode(%+v) err = %v", r, err)
		}
	}
}

func TestDecodeShortInput(t *testing.T) {
	for n := 0; n < headerSize; n++ {
		got, err := Decode(make([]byte, n))
		if err != nil || len(got) != 0 {
			t.Errorf("Decode(%d bytes) = %v, %v", n, got, err)
		}
	}
}

func TestDecodeIgnoresDeclaredSize(t *testing.T) {
	b, err := Encode([]Record{Default("10.0.0.1")})
	if err != nil {
		t.Fatal(err)
	}
	copy(b, []byte{0xde, 0xad, 0xbe, 0xef})
	got, err := Decode(b)
	if err != nil || len(got) != 1 || got[0].Host != "10.0.0.1" {
		t.Errorf("Decode = %+v, %v", got, err)
	}
}

func TestDecodeTruncated(t *testing.T) {
	b, err := Encode([]Record{
		{ID: 1, Host: "one", Activity: "x"},
		{ID: 2, Host: "two", Activity: "y"},
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, cut := range []int{1, 3, 5, 8, 11} {
		got, err := Decode(b[:len(b)-cut])
		if !errors.Is(err, ErrTruncated) {
			t.Errorf("cut %d: err = %v, want ErrTruncated", cut, err)
		}
		if len(got) != 1 || got[0].ID != 1 {
			t.Errorf("cut %d: records = %+v", cut, got)
		}
	}

	// Count claims more records than the buffer holds.
	hdr := []byte{0, 0, 0, 2, 0, 3}
	got, err := Decode(hdr)
	if !errors.Is(err, ErrTruncated) || len(got) != 0 {
		t.Errorf("Decode(header only) = %v, %v", got, err)
	}
}

func TestFlagsOf(t *testing.T) {
	tests := []struct {
		mask uint32
		want []WorldType
	}{
		{0, []WorldType{}},
		{0b0000_0011, []WorldType{Members, PVP}},
		{1 << 5, []WorldType{QuestSpeedrunning}},
		{1<<13 | 1, []WorldType{Members, Seasonal}},
		{1 << 20, []WorldType{}},
	}
	for _, tt := range tests {
		if got := FlagsOf(tt.mask); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("FlagsOf(%#x) = %v, want %v", tt.mask, got, tt.want)
		}
	}
	if m := MaskOf(Members, PVP); m != 3 {
		t.Errorf("MaskOf = %#x", m)
	}
	if !(Record{Mask: 1 << 20}).Unmatched() || (Record{Mask: 1}).Unmatched() || (Record{}).Unmatched() {
		t.Errorf("Unmatched misreports")
	}
}

func TestParseWorldType(t *testing.T) {
	for i := WorldType(0); i < numWorldTypes; i++ {
		got, err := ParseWorldType(i.String())
		if err != nil || got != i {
			t.Errorf("ParseWorldType(%s) = %v, %v", i, got, err)
		}
	}
	if got, err := ParseWorldType("pvp_arena"); err != nil || got != PVPArena {
		t.Errorf("case-insensitive lookup = %v, %v", got, err)
	}
	if _, err := ParseWorldType("RAIDS"); err == nil {
		t.Errorf("unknown name accepted")
	}
}

func TestDefaultEndToEnd(t *testing.T) {
	in := Record{ID: 255, Mask: 1, Host: "192.0.2.1", Activity: "Test", Location: 0, Population: 0}
	b, err := Encode([]Record{in})
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != in {
		t.Fatalf("Decode = %+v", got)
	}
	if types := got[0].Types(); !reflect.DeepEqual(types, []WorldType{Members}) {
		t.Errorf("types = %v", types)
	}

	d := Default("192.0.2.1")
	if d.ID != 255 || d.Mask != 1 || d.Activity != "Gnome" || d.Location != 0 || d.Population != 0 {
		t.Errorf("Default = %+v", d)
	}
}

func TestProjectJSON(t *testing.T) {
	res := Project([]Record{
		{ID: 255, Mask: 3, Host: "192.0.2.1", Activity: "Gnome", Location: 1, Population: 12},
		{ID: 256, Mask: 1 << 20, Host: "h", Activity: "a"},
	})
	b, err := json.Marshal(res)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"worlds":[` +
		`{"id":255,"types":["MEMBERS","PVP"],"address":"192.0.2.1","activity":"Gnome","location":1,"players":12},` +
		`{"id":256,"types":[],"address":"h","activity":"a","location":0,"players":0}]}`
	if string(b) != want {
		t.Errorf("json = %s\nwant   %s", b, want)
	}
}
