package jarpatch

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"gnomepatch/internal/classfile"
	"gnomepatch/internal/classfile/classtest"
	"gnomepatch/internal/rewrite"
)

const testKey = "c0ffee"

func newPatcher(t *testing.T) *Patcher {
	t.Helper()
	tg, err := rewrite.NewTarget("192.0.2.1", testKey)
	if err != nil {
		t.Fatal(err)
	}
	return &Patcher{Target: tg, Workers: 3}
}

func loaderClass(name string, literals ...string) []byte {
	b := classtest.New(name)
	var code []byte
	for _, s := range literals {
		code = append(code, byte(classfile.OpLdcW))
		code = append(code, classtest.U16(b.String(s))...)
		code = append(code, byte(classfile.OpPop))
	}
	code = append(code, byte(classfile.OpReturn))
	b.Method(classtest.Method{Access: classfile.AccStatic, Name: "load", Desc: "()V", MaxStack: 1, Code: code})
	return b.Bytes()
}

type entry struct {
	name   string
	data   []byte
	method uint16
}

func buildJar(t *testing.T, entries []entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: e.name, Method: e.method})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(e.data); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func readJar(t *testing.T, b []byte) []entry {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		t.Fatalf("output is not a zip: %v", err)
	}
	var out []entry
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("%s: %v", f.Name, err)
		}
		out = append(out, entry{name: f.Name, data: data, method: f.Method})
	}
	return out
}

func TestPatchModuleRawFirst(t *testing.T) {
	p := newPatcher(t)
	in := loaderClass("Key", rewrite.DefaultOriginalKeyHex, "https://www.jagex.com/")

	res, err := p.PatchModule(in)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Patched || !res.Raw || res.Stats.Changed() {
		t.Fatalf("result = %+v", res)
	}
	if len(res.Bytes) != len(in) {
		t.Errorf("raw pass changed length %d -> %d", len(in), len(res.Bytes))
	}
	at := bytes.Index(in, []byte(rewrite.DefaultOriginalKeyHex))
	want := append([]byte(testKey), make([]byte, len(rewrite.DefaultOriginalKeyHex)-len(testKey))...)
	if !bytes.Equal(res.Bytes[at:at+len(want)], want) {
		t.Errorf("patched window = %q", res.Bytes[at:at+len(want)])
	}
	// The endpoint is left alone when the raw pass already succeeded.
	if !bytes.Contains(res.Bytes, []byte("https://www.jagex.com/")) {
		t.Errorf("structural pass ran after raw patch")
	}
}

func TestPatchModuleStructuralAfterRaw(t *testing.T) {
	p := newPatcher(t)
	p.StructuralAfterRaw = true
	in := loaderClass("Key", rewrite.DefaultOriginalKeyHex, "https://www.jagex.com/")

	res, err := p.PatchModule(in)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Raw || res.Stats.Domains != 1 {
		t.Fatalf("result = %+v", res)
	}
	cf, err := classfile.Parse(res.Bytes)
	if err != nil {
		t.Fatal(err)
	}
	endpoint := cf.Methods[0].Code.Insns[2]
	if s, _ := cf.Pool.StringValue(endpoint.Index); s != "192.0.2.1" {
		t.Errorf("endpoint = %q", s)
	}
}

func TestPatchModuleStructural(t *testing.T) {
	p := newPatcher(t)
	in := loaderClass("Net", "http://oldschool.runescape.com/", "keep")
	res, err := p.PatchModule(in)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Patched || res.Raw || res.Stats.Domains != 1 {
		t.Fatalf("result = %+v", res)
	}
	if !bytes.Contains(res.Bytes, []byte("192.0.2.1")) {
		t.Errorf("target host missing from rewritten class")
	}
}

func TestPatchModuleUnchanged(t *testing.T) {
	p := newPatcher(t)
	in := loaderClass("Plain", "nothing", "here")
	res, err := p.PatchModule(in)
	if err != nil {
		t.Fatal(err)
	}
	if res.Patched || &res.Bytes[0] != &in[0] {
		t.Errorf("unchanged module should come back as the input slice: %+v", res.Stats)
	}
}

func TestPatchModuleMalformed(t *testing.T) {
	p := newPatcher(t)
	_, err := p.PatchModule([]byte{0xCA, 0xFE, 0xBA, 0xBE, 0, 0})
	if !errors.Is(err, classfile.ErrMalformed) {
		t.Errorf("err = %v, want ErrMalformed", err)
	}
}

func TestPatchArchive(t *testing.T) {
	manifest := []byte("Manifest-Version: 1.0\r\n\r\n")
	plain := loaderClass("Plain", "nothing")
	asset := bytes.Repeat([]byte{0xAB}, 64)
	in := buildJar(t, []entry{
		{"META-INF/MANIFEST.MF", manifest, zip.Deflate},
		{"Net.class", loaderClass("Net", "https://auth.jagex.com/"), zip.Deflate},
		{"Plain.class", plain, zip.Deflate},
		{"assets/", nil, zip.Store},
		{"assets/blob.bin", asset, zip.Store},
		{"Key.class", loaderClass("Key", rewrite.DefaultOriginalKeyHex), zip.Store},
		{"notes.class.txt", []byte("jagex.com"), zip.Deflate},
	})

	res, err := newPatcher(t).PatchArchive(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if res.Entries != 7 || res.Modules != 3 || res.Patched != 2 {
		t.Errorf("result = entries %d modules %d patched %d", res.Entries, res.Modules, res.Patched)
	}
	if res.Stats.Domains != 1 {
		t.Errorf("stats = %+v", res.Stats)
	}

	out := readJar(t, res.Bytes)
	names := []string{"META-INF/MANIFEST.MF", "Net.class", "Plain.class", "assets/", "assets/blob.bin", "Key.class", "notes.class.txt"}
	if len(out) != len(names) {
		t.Fatalf("entries = %d", len(out))
	}
	for i, e := range out {
		if e.name != names[i] {
			t.Errorf("entry %d = %s, want %s", i, e.name, names[i])
		}
	}
	if !bytes.Equal(out[0].data, manifest) || !bytes.Equal(out[4].data, asset) || !bytes.Equal(out[2].data, plain) {
		t.Errorf("pass-through entry changed")
	}
	if string(out[6].data) != "jagex.com" {
		t.Errorf("non-module entry rewritten")
	}
	if out[5].method != zip.Store {
		t.Errorf("Key.class method = %d, want stored", out[5].method)
	}

	cf, err := classfile.Parse(out[1].data)
	if err != nil {
		t.Fatal(err)
	}
	if s, _ := cf.Pool.StringValue(cf.Methods[0].Code.Insns[0].Index); s != "192.0.2.1" {
		t.Errorf("Net.class endpoint = %q", s)
	}
	if !bytes.HasPrefix(out[5].data[bytes.Index(out[5].data, []byte(testKey)):], []byte(testKey+"\x00")) {
		t.Errorf("Key.class not raw patched")
	}
}

func TestPatchArchiveMalformedAborts(t *testing.T) {
	in := buildJar(t, []entry{
		{"A.class", loaderClass("A", "x"), zip.Deflate},
		{"B.class", []byte("not a class"), zip.Deflate},
		{"C.class", loaderClass("C", "jagex.com"), zip.Deflate},
	})
	res, err := newPatcher(t).PatchArchive(context.Background(), in)
	if !errors.Is(err, classfile.ErrMalformed) || res != nil {
		t.Errorf("PatchArchive = %v, %v; want ErrMalformed", res, err)
	}
}

func TestPatchArchiveNotZip(t *testing.T) {
	_, err := newPatcher(t).PatchArchive(context.Background(), []byte("PK but not really"))
	if !errors.Is(err, ErrIO) {
		t.Errorf("err = %v, want ErrIO", err)
	}
}

func TestPatchArchiveCanceled(t *testing.T) {
	in := buildJar(t, []entry{{"A.class", loaderClass("A", "jagex.com"), zip.Deflate}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := newPatcher(t).PatchArchive(ctx, in); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestReadModules(t *testing.T) {
	a := loaderClass("A", "x")
	in := buildJar(t, []entry{
		{"META-INF/MANIFEST.MF", []byte("Manifest-Version: 1.0\r\n"), zip.Deflate},
		{"A.class", a, zip.Deflate},
		{"b/B.class", loaderClass("B"), zip.Store},
	})
	got, err := ReadModules(in)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Name != "A.class" || got[1].Name != "b/B.class" || !bytes.Equal(got[0].Data, a) {
		t.Errorf("ReadModules = %+v", got)
	}
	if _, err := ReadModules([]byte("nope")); !errors.Is(err, ErrIO) {
		t.Errorf("err = %v, want ErrIO", err)
	}
}

func TestIsModule(t *testing.T) {
	tests := map[string]bool{
		"client.class":               true,
		"a/b/Login.class":            true,
		"client.class/":              false,
		"client.classes":             false,
		"META-INF/MANIFEST.MF":       false,
		"resources/client.class.bak": false,
	}
	for name, want := range tests {
		if got := IsModule(name); got != want {
			t.Errorf("IsModule(%q) = %v", name, got)
		}
	}
}
