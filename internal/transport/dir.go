// Package transport moves signed identity documents between nodes. The
// directory source stores one signed envelope per identity and edition,
// which is enough for a shared folder, a sync tool or tests.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/nbd-wtf/go-nostr"
	"github.com/rs/zerolog"

	"mycelica/wot/internal/keys"
)

// KindDocument is the event kind of an identity document envelope.
const KindDocument = 30078

const (
	documentTag  = "wot-identity"
	editionTag   = "edition"
	envelopeExt  = ".json"
	editionWidth = 20
)

var (
	// ErrNotFound is returned when no envelope at or above the requested
	// edition exists.
	ErrNotFound = errors.New("document not found")
	// ErrBadEnvelope covers unreadable envelopes, bad signatures and
	// envelopes signed by someone other than the identity.
	ErrBadEnvelope = errors.New("bad envelope")
)

// Envelope is a verified document as retrieved from the network.
type Envelope struct {
	RequestKey string
	Edition    int64
	Content    []byte
	SignedAt   time.Time
}

// DirSource is a directory-backed document network. Envelopes live at
// <dir>/<public key hex>/<edition>.json.
type DirSource struct {
	dir string
	log zerolog.Logger
	now func() time.Time
}

// NewDirSource creates the directory if needed.
func NewDirSource(dir string, log zerolog.Logger) (*DirSource, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating document directory %s: %w", dir, err)
	}
	return &DirSource{dir: dir, log: log, now: time.Now}, nil
}

// Dir returns the root directory.
func (d *DirSource) Dir() string { return d.dir }

// Publish signs content with the insert key and stores it as the given
// edition. An existing envelope of the same edition is replaced.
func (d *DirSource) Publish(ctx context.Context, insertKey string, edition int64, content []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	skHex, err := keys.PrivateKeyHex(insertKey)
	if err != nil {
		return err
	}
	requestKey, err := keys.RequestKeyFor(insertKey)
	if err != nil {
		return err
	}
	pkHex, err := keys.PublicKeyHex(requestKey)
	if err != nil {
		return err
	}

	event := nostr.Event{
		PubKey:    pkHex,
		CreatedAt: nostr.Timestamp(d.now().Unix()),
		Kind:      KindDocument,
		Tags: nostr.Tags{
			nostr.Tag{"d", documentTag},
			nostr.Tag{editionTag, strconv.FormatInt(edition, 10)},
		},
		Content: string(content),
	}
	event.ID = event.GetID()
	if err := event.Sign(skHex); err != nil {
		return fmt.Errorf("signing edition %d: %w", edition, err)
	}

	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}
	identityDir := filepath.Join(d.dir, pkHex)
	if err := os.MkdirAll(identityDir, 0o755); err != nil {
		return fmt.Errorf("creating identity directory: %w", err)
	}
	// Write then rename so watchers and readers never see a partial file.
	tmp, err := os.CreateTemp(identityDir, ".publish-*")
	if err != nil {
		return fmt.Errorf("creating temp envelope: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing envelope: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing envelope: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(identityDir, editionFile(edition))); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("storing envelope: %w", err)
	}
	d.log.Debug().Str("request_key", requestKey).Int64("edition", edition).Msg("document published")
	return nil
}

// Fetch returns the newest valid envelope of requestKey whose edition is
// at least minEdition. Invalid envelopes are skipped with a warning so a
// forged newer file cannot hide an older genuine one.
func (d *DirSource) Fetch(ctx context.Context, requestKey string, minEdition int64) (*Envelope, error) {
	pkHex, err := keys.PublicKeyHex(requestKey)
	if err != nil {
		return nil, err
	}
	editions, err := d.editions(pkHex)
	if err != nil {
		return nil, err
	}
	for i := len(editions) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		edition := editions[i]
		if edition < minEdition {
			break
		}
		env, err := d.read(pkHex, requestKey, edition)
		if err != nil {
			d.log.Warn().Err(err).Str("request_key", requestKey).Int64("edition", edition).Msg("skipping envelope")
			continue
		}
		return env, nil
	}
	return nil, fmt.Errorf("%w: %s at edition >= %d", ErrNotFound, requestKey, minEdition)
}

// editions lists the stored editions of one identity in ascending order.
func (d *DirSource) editions(pkHex string) ([]int64, error) {
	entries, err := os.ReadDir(filepath.Join(d.dir, pkHex))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing envelopes of %s: %w", pkHex, err)
	}
	var out []int64
	for _, e := range entries {
		if edition, ok := parseEditionFile(e.Name()); ok && !e.IsDir() {
			out = append(out, edition)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (d *DirSource) read(pkHex, requestKey string, edition int64) (*Envelope, error) {
	raw, err := os.ReadFile(filepath.Join(d.dir, pkHex, editionFile(edition)))
	if err != nil {
		return nil, fmt.Errorf("reading envelope: %w", err)
	}
	var event nostr.Event
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	if err := verify(&event, pkHex, edition); err != nil {
		return nil, err
	}
	return &Envelope{
		RequestKey: requestKey,
		Edition:    edition,
		Content:    []byte(event.Content),
		SignedAt:   event.CreatedAt.Time(),
	}, nil
}

// verify checks the signature, the signer and the edition tag.
func verify(event *nostr.Event, pkHex string, edition int64) error {
	if event.Kind != KindDocument {
		return fmt.Errorf("%w: kind %d", ErrBadEnvelope, event.Kind)
	}
	if event.PubKey != pkHex {
		return fmt.Errorf("%w: signed by %s", ErrBadEnvelope, event.PubKey)
	}
	if event.ID != event.GetID() {
		return fmt.Errorf("%w: id does not match content", ErrBadEnvelope)
	}
	ok, err := event.CheckSignature()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	if !ok {
		return fmt.Errorf("%w: invalid signature", ErrBadEnvelope)
	}
	tag := event.Tags.GetFirst([]string{editionTag, ""})
	if tag == nil {
		return fmt.Errorf("%w: missing edition tag", ErrBadEnvelope)
	}
	tagged, err := strconv.ParseInt(tag.Value(), 10, 64)
	if err != nil || tagged != edition {
		return fmt.Errorf("%w: edition tag %q does not match %d", ErrBadEnvelope, tag.Value(), edition)
	}
	return nil
}

// Watch calls fn with the request key of every envelope written after the
// call, until ctx is done.
func (d *DirSource) Watch(ctx context.Context, fn func(requestKey string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(d.dir); err != nil {
		return fmt.Errorf("watching %s: %w", d.dir, err)
	}
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return fmt.Errorf("listing %s: %w", d.dir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			if err := watcher.Add(filepath.Join(d.dir, e.Name())); err != nil {
				return fmt.Errorf("watching %s: %w", e.Name(), err)
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			d.handleWatchEvent(watcher, event, fn)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			d.log.Warn().Err(err).Msg("document watcher error")
		}
	}
}

func (d *DirSource) handleWatchEvent(watcher *fsnotify.Watcher, event fsnotify.Event, fn func(string)) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	parent := filepath.Dir(event.Name)
	if parent == filepath.Clean(d.dir) {
		// A new identity directory. Envelopes renamed into it before the
		// watch was added are picked up by listing it once.
		info, err := os.Stat(event.Name)
		if err != nil || !info.IsDir() {
			return
		}
		if err := watcher.Add(event.Name); err != nil {
			d.log.Warn().Err(err).Str("path", event.Name).Msg("cannot watch identity directory")
			return
		}
		if editions, err := d.editions(filepath.Base(event.Name)); err == nil && len(editions) > 0 {
			d.notify(filepath.Base(event.Name), fn)
		}
		return
	}
	if _, ok := parseEditionFile(filepath.Base(event.Name)); !ok {
		return
	}
	d.notify(filepath.Base(parent), fn)
}

func (d *DirSource) notify(pkHex string, fn func(string)) {
	requestKey, err := keys.RequestKeyFromHex(pkHex)
	if err != nil {
		d.log.Debug().Str("dir", pkHex).Msg("ignoring non-identity directory")
		return
	}
	fn(requestKey)
}

func editionFile(edition int64) string {
	return fmt.Sprintf("%0*d%s", editionWidth, edition, envelopeExt)
}

func parseEditionFile(name string) (int64, bool) {
	if !strings.HasSuffix(name, envelopeExt) || strings.HasPrefix(name, ".") {
		return 0, false
	}
	edition, err := strconv.ParseInt(strings.TrimSuffix(name, envelopeExt), 10, 64)
	if err != nil || edition < 0 {
		return 0, false
	}
	return edition, true
}
