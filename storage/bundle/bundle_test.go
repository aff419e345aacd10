package bundle_test

import (
	"archive/tar"
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/ipfs/go-cid"

	"quenyan.dev/qyn1/cidutil"
	"quenyan.dev/qyn1/morpheme"
	"quenyan.dev/qyn1/qyn1"
	"quenyan.dev/qyn1/storage"
	"quenyan.dev/qyn1/storage/bundle"
	"quenyan.dev/qyn1/storage/testkit"
)

func TestExportIsDeterministic(t *testing.T) {
	cas := testkit.NewMem()

	id1, err := cas.Put([]byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	id2, err := cas.Put([]byte("world"))
	if err != nil {
		t.Fatal(err)
	}

	var outA bytes.Buffer
	if err := bundle.Export(&outA, cas, []cid.Cid{id2, id1}, bundle.ExportOptions{IncludeIndex: true}); err != nil {
		t.Fatal(err)
	}
	var outB bytes.Buffer
	if err := bundle.Export(&outB, cas, []cid.Cid{id1, id2}, bundle.ExportOptions{IncludeIndex: true}); err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(outA.Bytes(), outB.Bytes()) {
		t.Fatal("expected deterministic bundle bytes")
	}
}

func TestImportRoundTrip(t *testing.T) {
	src := testkit.NewMem()

	payload := []byte("payload")
	id, err := src.Put(payload)
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := bundle.Export(&buf, src, []cid.Cid{id}, bundle.ExportOptions{IncludeIndex: true}); err != nil {
		t.Fatal(err)
	}

	dst := testkit.NewMem()
	if err := bundle.Import(bytes.NewReader(buf.Bytes()), dst); err != nil {
		t.Fatal(err)
	}

	got, err := dst.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("payload mismatch")
	}
}

func TestImportRejectsCIDMismatch(t *testing.T) {
	good := []byte("good")
	otherCID, err := cidutil.CIDv1RawSHA256CID([]byte("other"))
	if err != nil {
		t.Fatal(err)
	}

	// Name says otherCID but bytes are "good": recomputed CID must win.
	bundleBytes := makeDeterministicTar(t, "packages/"+otherCID.String(), good)

	dst := testkit.NewMem()
	if err := bundle.Import(bytes.NewReader(bundleBytes), dst); !errors.Is(err, storage.ErrCIDMismatch) {
		t.Fatalf("expected ErrCIDMismatch, got %v", err)
	}
}

func TestVerifyPackagesOption(t *testing.T) {
	src := testkit.NewMem()

	pkg, err := qyn1.Encode(
		[]morpheme.Token{morpheme.TokLitInt},
		[]qyn1.Payload{qyn1.NumPayload(7)},
		qyn1.EncodeOptions{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	pkgID, err := src.Put(pkg)
	if err != nil {
		t.Fatal(err)
	}
	junkID, err := src.Put([]byte("not a package"))
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := bundle.Export(&buf, src, []cid.Cid{pkgID, junkID}, bundle.ExportOptions{}); err != nil {
		t.Fatal(err)
	}

	dst := testkit.NewMem()
	err = bundle.ImportWithOptions(bytes.NewReader(buf.Bytes()), dst, bundle.ImportOptions{VerifyPackages: true})
	if !errors.Is(err, storage.ErrNotPackage) {
		t.Fatalf("expected ErrNotPackage, got %v", err)
	}

	var onlyPkg bytes.Buffer
	if err := bundle.Export(&onlyPkg, src, []cid.Cid{pkgID}, bundle.ExportOptions{}); err != nil {
		t.Fatal(err)
	}
	dst = testkit.NewMem()
	if err := bundle.ImportWithOptions(bytes.NewReader(onlyPkg.Bytes()), dst, bundle.ImportOptions{VerifyPackages: true}); err != nil {
		t.Fatal(err)
	}
	if !dst.Has(pkgID) {
		t.Fatal("package missing after verified import")
	}
}

func TestImportRejectsUnknownEntries(t *testing.T) {
	dst := testkit.NewMem()
	raw := makeDeterministicTar(t, "extras/readme", []byte("hi"))

	if err := bundle.Import(bytes.NewReader(raw), dst); err == nil {
		t.Fatal("expected error for unknown entry")
	}
	if err := bundle.ImportWithOptions(bytes.NewReader(raw), dst, bundle.ImportOptions{IgnoreUnknown: true}); err != nil {
		t.Fatalf("IgnoreUnknown import: %v", err)
	}
}

func makeDeterministicTar(t *testing.T, name string, content []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	h := &tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(content)),
		ModTime:  time.Unix(0, 0).UTC(),
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(h); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}
