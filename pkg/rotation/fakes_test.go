package rotation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/systmms/rotator/pkg/secretstore"
)

// journal records store calls across every fake of a test, in call order.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(format string, args ...interface{}) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, fmt.Sprintf(format, args...))
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

// fakeStore holds the behaviour shared by all fakes. Capabilities are added by
// embedding the role types below, so each fake type exposes exactly the
// interfaces a test needs.
type fakeStore struct {
	name string
	j    *journal

	mu        sync.Mutex
	state     *secretstore.SecretState
	artifacts []secretstore.SecretState

	readErr      error
	artifactsErr error
	originateErr error
	writeErr     error
	markErr      error
	revokeErr    error
	actionErr    error
	noAction     bool

	// originExpiry, when set, is returned by OriginateValue instead of leaving
	// the expiration to the plan.
	originExpiry *time.Time

	requestedExpiry time.Time
	written         []*secretstore.SecretValue
	marked          *secretstore.SecretValue
	revokeAfter     []*time.Time
	whatIfFlags     []bool
}

func (f *fakeStore) Name() string { return f.name }

func (f *fakeStore) sawWhatIf(whatIf bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.whatIfFlags = append(f.whatIfFlags, whatIf)
}

type reader struct{ *fakeStore }

func (r reader) GetCurrentState(ctx context.Context) (*secretstore.SecretState, error) {
	r.j.add("%s:read", r.name)
	if r.readErr != nil {
		return nil, r.readErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == nil {
		return &secretstore.SecretState{StatusCode: 404, ErrorMessage: "not found"}, nil
	}
	s := *r.state
	return &s, nil
}

func (r reader) GetRotationArtifacts(ctx context.Context) ([]secretstore.SecretState, error) {
	r.j.add("%s:artifacts", r.name)
	if r.artifactsErr != nil {
		return nil, r.artifactsErr
	}
	return r.artifacts, nil
}

type originator struct{ *fakeStore }

func (o originator) OriginateValue(ctx context.Context, current *secretstore.SecretState, expiresOn time.Time, whatIf bool) (*secretstore.SecretValue, error) {
	o.j.add("%s:originate", o.name)
	o.sawWhatIf(whatIf)
	if o.originateErr != nil {
		return nil, o.originateErr
	}
	o.requestedExpiry = expiresOn
	return &secretstore.SecretValue{Value: "new-secret", ExpirationDate: o.originExpiry}, nil
}

type annotator struct{ *fakeStore }

func (a annotator) MarkRotationComplete(ctx context.Context, value *secretstore.SecretValue, revokeAfter *time.Time, whatIf bool) error {
	a.j.add("%s:mark", a.name)
	a.sawWhatIf(whatIf)
	if a.markErr != nil {
		return a.markErr
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.marked = value
	a.revokeAfter = append(a.revokeAfter, revokeAfter)
	if !whatIf {
		a.state = &secretstore.SecretState{
			OperationID:    value.OperationID,
			ExpirationDate: value.ExpirationDate,
		}
	}
	return nil
}

type writer struct{ *fakeStore }

func (w writer) WriteSecret(ctx context.Context, value *secretstore.SecretValue, current *secretstore.SecretState, revokeAfter *time.Time, whatIf bool) error {
	w.j.add("%s:write", w.name)
	w.sawWhatIf(whatIf)
	if w.writeErr != nil {
		return w.writeErr
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.written = append(w.written, value)
	w.revokeAfter = append(w.revokeAfter, revokeAfter)
	return nil
}

type revoker struct{ *fakeStore }

func (r revoker) GetRevocationAction(ctx context.Context, state secretstore.SecretState, whatIf bool) (secretstore.RevocationAction, error) {
	r.j.add("%s:action %s", r.name, state.ID)
	r.sawWhatIf(whatIf)
	if r.revokeErr != nil {
		return nil, r.revokeErr
	}
	if r.noAction {
		return nil, nil
	}
	return func(ctx context.Context) error {
		r.j.add("%s:revoke %s", r.name, state.ID)
		return r.actionErr
	}, nil
}

// vaultStore can do everything but originate, like a Key Vault primary.
type vaultStore struct {
	*fakeStore
	reader
	annotator
	writer
	revoker
}

func newVault(name string, j *journal) *vaultStore {
	f := &fakeStore{name: name, j: j}
	return &vaultStore{f, reader{f}, annotator{f}, writer{f}, revoker{f}}
}

// patStore originates and revokes, like an Azure DevOps PAT origin.
type patStore struct {
	*fakeStore
	originator
	revoker
}

func newPAT(name string, j *journal) *patStore {
	f := &fakeStore{name: name, j: j}
	return &patStore{f, originator{f}, revoker{f}}
}

// selfOriginStore is both origin and primary.
type selfOriginStore struct {
	*fakeStore
	reader
	originator
	annotator
	revoker
}

func newSelfOrigin(name string, j *journal) *selfOriginStore {
	f := &fakeStore{name: name, j: j}
	return &selfOriginStore{f, reader{f}, originator{f}, annotator{f}, revoker{f}}
}

type writeOnlyStore struct {
	*fakeStore
	writer
}

func newWriteOnly(name string, j *journal) *writeOnlyStore {
	f := &fakeStore{name: name, j: j}
	return &writeOnlyStore{f, writer{f}}
}

type readWriteStore struct {
	*fakeStore
	reader
	writer
}

func newReadWrite(name string, j *journal) *readWriteStore {
	f := &fakeStore{name: name, j: j}
	return &readWriteStore{f, reader{f}, writer{f}}
}

// ledgerStore can be read and annotated but not written.
type ledgerStore struct {
	*fakeStore
	reader
	annotator
}

func newLedger(name string, j *journal) *ledgerStore {
	f := &fakeStore{name: name, j: j}
	return &ledgerStore{f, reader{f}, annotator{f}}
}

type readOnlyStore struct {
	*fakeStore
	reader
}

func newReadOnly(name string, j *journal) *readOnlyStore {
	f := &fakeStore{name: name, j: j}
	return &readOnlyStore{f, reader{f}}
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

func at(d time.Duration) *time.Time {
	t := testNow.Add(d)
	return &t
}

func testOptions(extra ...Option) []Option {
	return append([]Option{
		WithClock(func() time.Time { return testNow }),
		WithOperationIDs(func() string { return "op-1" }),
	}, extra...)
}
