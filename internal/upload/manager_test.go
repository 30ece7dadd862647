package upload_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"sead/internal/events"
	"sead/internal/fixity"
	"sead/internal/logging"
	"sead/internal/services"
	"sead/internal/sip"
	"sead/internal/stager"
	"sead/internal/staging"
	"sead/internal/testsupport"
	"sead/internal/upload"
)

type harness struct {
	uploads *upload.Manager
	stager  *stager.MemoryStager
	content *staging.DirStager
}

func newHarness(t *testing.T, algorithms ...string) *harness {
	t.Helper()
	st := stager.NewMemoryStager()
	if _, err := st.Add(context.Background(), testsupport.NewPackage("sip-1")); err != nil {
		t.Fatalf("seed package: %v", err)
	}
	content, err := staging.NewDirStager(t.TempDir(), 0, logging.NewNop())
	if err != nil {
		t.Fatalf("NewDirStager: %v", err)
	}
	ev, err := events.NewManager(st, nil, logging.NewNop())
	if err != nil {
		t.Fatalf("events.NewManager: %v", err)
	}
	mgr, err := upload.NewManager(content, ev, algorithms, logging.NewNop())
	if err != nil {
		t.Fatalf("upload.NewManager: %v", err)
	}
	return &harness{uploads: mgr, stager: st, content: content}
}

func countTypes(evs []sip.Event) map[string]int {
	counts := make(map[string]int)
	for _, ev := range evs {
		counts[ev.Type]++
	}
	return counts
}

func TestUploadEmitsDepositAndFixityEvents(t *testing.T) {
	h := newHarness(t, "MD5", "SHA-256")
	ctx := context.Background()

	res, err := h.uploads.Upload(ctx, upload.Request{
		SIPID:         "sip-1",
		Name:          "hello.txt",
		MimeType:      "text/plain",
		Manifestation: "sip-1-m",
		Body:          strings.NewReader("hello"),
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if res.File.Size != 5 || !res.File.Extant || res.File.Source != res.Staged.AccessURI {
		t.Fatalf("unexpected file %#v", res.File)
	}
	if len(res.File.Fixity) != 2 || res.File.Fixity[0].Value != "5d41402abc4b2a76b9719d911017c592" {
		t.Fatalf("unexpected fixity %#v", res.File.Fixity)
	}

	pkg, err := h.stager.Get(ctx, "sip-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if pkg.FindFile(res.File.ID) == nil {
		t.Fatal("file not appended to package")
	}
	if files := pkg.Manifestations[0].Files; files[len(files)-1] != res.File.ID {
		t.Fatalf("file not attached to manifestation: %v", files)
	}

	counts := countTypes(pkg.EventsTargeting(res.File.ID))
	if counts[sip.EventDeposit] != 1 || counts[sip.EventFileUpload] != 1 || counts[sip.EventFixityDigest] != 2 {
		t.Fatalf("unexpected event counts %v", counts)
	}
	for _, ev := range pkg.EventsOfType(sip.EventFixityDigest) {
		if ev.Detail == fixity.SHA256 && ev.Outcome != "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824" {
			t.Fatalf("unexpected SHA-256 outcome %q", ev.Outcome)
		}
	}
}

func TestUploadWithoutFixity(t *testing.T) {
	h := newHarness(t)
	res, err := h.uploads.Upload(context.Background(), upload.Request{SIPID: "sip-1", Name: "a.bin", Body: strings.NewReader("abc")})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	counts := countTypes(res.Events)
	if counts[sip.EventDeposit] != 1 || counts[sip.EventFixityDigest] != 0 {
		t.Fatalf("unexpected event counts %v", counts)
	}
	if len(res.File.Fixity) != 0 {
		t.Fatalf("expected no digests, got %v", res.File.Fixity)
	}
}

func TestUploadSkipsUnsupportedAlgorithms(t *testing.T) {
	h := newHarness(t, "MD5", "CRC32")
	res, err := h.uploads.Upload(context.Background(), upload.Request{SIPID: "sip-1", Name: "a.bin", Body: strings.NewReader("abc")})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if len(res.Skipped) != 1 || res.Skipped[0] != "CRC32" {
		t.Fatalf("unexpected skipped %v", res.Skipped)
	}
	if got := countTypes(res.Events)[sip.EventFixityDigest]; got != 1 {
		t.Fatalf("expected one fixity event, got %d", got)
	}
}

func TestUploadRejectsMismatch(t *testing.T) {
	h := newHarness(t, "MD5")
	ctx := context.Background()

	_, err := h.uploads.Upload(ctx, upload.Request{
		SIPID:    "sip-1",
		Name:     "bad.txt",
		Declared: []sip.Fixity{{Algorithm: "sha1", Value: "0000"}},
		Body:     strings.NewReader("hello"),
	})
	var mismatch *fixity.MismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected MismatchError, got %v", err)
	}
	if mismatch.Algorithm != fixity.SHA1 || services.Kind(err) != "validation" {
		t.Fatalf("unexpected mismatch %#v (%s)", mismatch, services.Kind(err))
	}

	staged, err := h.content.List(ctx, "sip-1")
	if err != nil || len(staged) != 0 {
		t.Fatalf("mismatched content should be removed, got %v (%v)", staged, err)
	}
	pkg, _ := h.stager.Get(ctx, "sip-1")
	if len(pkg.Files) != 1 || len(pkg.Events) != 0 {
		t.Fatal("rejected upload modified the package")
	}
}

func TestUploadAcceptsMatchingDeclaredDigest(t *testing.T) {
	h := newHarness(t, "MD5")
	res, err := h.uploads.Upload(context.Background(), upload.Request{
		SIPID:    "sip-1",
		Name:     "ok.txt",
		Declared: []sip.Fixity{{Algorithm: "SHA1", Value: "AAF4C61DDCC5E8A2DABEDE0F3B482CD9AEA9434D"}},
		Body:     strings.NewReader("hello"),
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if len(res.File.Fixity) != 2 {
		t.Fatalf("expected configured and declared digests, got %v", res.File.Fixity)
	}
	if got := countTypes(res.Events)[sip.EventFixityDigest]; got != 1 {
		t.Fatalf("fixity events follow configured algorithms only, got %d", got)
	}
}

func TestUploadUnknownSIPLeavesNothingStaged(t *testing.T) {
	h := newHarness(t, "MD5")
	ctx := context.Background()
	_, err := h.uploads.Upload(ctx, upload.Request{SIPID: "missing", Name: "a", Body: strings.NewReader("x")})
	if !errors.Is(err, stager.ErrNotFound) {
		t.Fatalf("expected stager.ErrNotFound, got %v", err)
	}
	staged, err := h.content.List(ctx, "missing")
	if err != nil || len(staged) != 0 {
		t.Fatalf("expected nothing staged, got %v (%v)", staged, err)
	}
}

func TestUploadUnknownManifestation(t *testing.T) {
	h := newHarness(t)
	_, err := h.uploads.Upload(context.Background(), upload.Request{SIPID: "sip-1", Manifestation: "nope", Body: strings.NewReader("x")})
	if services.Kind(err) != "validation" {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestUploadValidatesRequest(t *testing.T) {
	h := newHarness(t)
	if _, err := h.uploads.Upload(context.Background(), upload.Request{Body: strings.NewReader("x")}); services.Kind(err) != "validation" {
		t.Fatalf("expected validation error for empty sip, got %v", err)
	}
	if _, err := h.uploads.Upload(context.Background(), upload.Request{SIPID: "sip-1"}); services.Kind(err) != "validation" {
		t.Fatalf("expected validation error for nil body, got %v", err)
	}
}
