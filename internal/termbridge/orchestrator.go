package termbridge

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shelldone/agentd/internal/journal"
	"github.com/shelldone/agentd/internal/policy"
)

// DefaultQueueDepth is the per-adapter bounded backpressure queue size.
const DefaultQueueDepth = 64

// Orchestrator maintains the CapabilityMap of external terminals and
// routes operations through the Adapter Port, enforcing consent and
// PasteGuard.
type Orchestrator struct {
	mu       sync.Mutex
	adapters map[string]Adapter
	bindings map[string]*TerminalBinding
	capMap   CapabilityMap
	pending  map[string]chan struct{} // per-adapter backpressure token bucket

	pol *policy.Engine
	j   *journal.Journal
}

// NewOrchestrator wires an orchestrator over the given adapters, keyed by
// terminal name.
func NewOrchestrator(pol *policy.Engine, j *journal.Journal, adapters map[string]Adapter) *Orchestrator {
	pending := make(map[string]chan struct{}, len(adapters))
	for name := range adapters {
		pending[name] = make(chan struct{}, DefaultQueueDepth)
	}
	return &Orchestrator{
		adapters: adapters,
		bindings: map[string]*TerminalBinding{},
		pending:  pending,
		pol:      pol,
		j:        j,
	}
}

func (o *Orchestrator) appendEvent(kind string, payload any) {
	if o.j == nil {
		return
	}
	o.j.Append(journal.EventBody{Kind: kind, Payload: payload})
}

// Discover probes every configured adapter in parallel with a per-adapter
// timeout, publishes any resulting diff as termbridge.capability.update
// events, and returns the new CapabilityMap.
func (o *Orchestrator) Discover(ctx context.Context) (CapabilityMap, []Diff, error) {
	o.mu.Lock()
	names := make([]string, 0, len(o.adapters))
	adapters := make([]Adapter, 0, len(o.adapters))
	for name, a := range o.adapters {
		names = append(names, name)
		adapters = append(adapters, a)
	}
	previous := o.capMap
	o.mu.Unlock()

	results := make([]TerminalCapability, len(names))
	var wg sync.WaitGroup
	for i := range names {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			probeCtx, cancel := context.WithTimeout(ctx, DefaultDiscoverTimeout)
			defer cancel()
			tc, ok := adapters[i].Probe(probeCtx)
			tc.Terminal = names[i]
			tc.Supported = ok
			results[i] = tc
		}(i)
	}
	wg.Wait()

	var terminals []TerminalCapability
	for _, r := range results {
		if r.Supported {
			terminals = append(terminals, r)
		}
	}

	diffs := diffMaps(previous.Terminals, terminals)

	o.mu.Lock()
	defer o.mu.Unlock()
	next := CapabilityMap{Version: previous.Version, GeneratedAt: time.Now().UTC(), Terminals: terminals}
	if len(diffs) > 0 {
		next.Version = previous.Version + 1
		for _, d := range diffs {
			o.appendEvent("termbridge.capability.update", map[string]any{"change": d.Change, "terminal": d.Terminal})
		}
	}
	o.capMap = next
	return next, diffs, nil
}

// CapabilityMap returns the most recently discovered capability snapshot.
func (o *Orchestrator) CapabilityMap() CapabilityMap {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.capMap
}

// Spawn policy-gates and dispatches termbridge.spawn, registering a new
// binding that moves straight to Active (consent is assumed granted by
// the caller having completed a prior discover/consent UX round-trip).
func (o *Orchestrator) Spawn(ctx context.Context, terminal, command, cwd string, env map[string]string, approvalGranted bool) (*TerminalBinding, error) {
	decision := o.pol.Evaluate(policy.PolicyInput{Command: "termbridge.spawn", Args: []string{terminal, command}, ApprovalGranted: approvalGranted})
	if !decision.Allowed {
		return nil, &Error{Kind: KindPolicyDenied, Msg: "termbridge.spawn denied: " + joinReasons(decision.DenyReasons)}
	}

	adapter, ok := o.adapters[terminal]
	if !ok {
		return nil, notSupported("no adapter registered for terminal " + terminal)
	}
	if !o.acquire(terminal) {
		return nil, &Error{Kind: KindBusy, Msg: "adapter queue full for " + terminal}
	}
	defer o.release(terminal)

	b := &TerminalBinding{BindingID: uuid.NewString(), TerminalKind: terminal, CreatedAt: time.Now().UTC(), CurrentDirectory: cwd}
	b.Register()
	b.Consent()
	b.Bind()

	if err := adapter.Spawn(ctx, b, command, cwd, env); err != nil {
		return nil, err
	}

	o.mu.Lock()
	o.bindings[b.BindingID] = b
	o.mu.Unlock()

	o.appendEvent("termbridge.spawn", map[string]any{"binding_id": b.BindingID, "terminal": terminal})
	return b, nil
}

func (o *Orchestrator) acquire(terminal string) bool {
	o.mu.Lock()
	q := o.pending[terminal]
	o.mu.Unlock()
	if q == nil {
		return true
	}
	select {
	case q <- struct{}{}:
		return true
	default:
		return false
	}
}

func (o *Orchestrator) release(terminal string) {
	o.mu.Lock()
	q := o.pending[terminal]
	o.mu.Unlock()
	if q == nil {
		return
	}
	select {
	case <-q:
	default:
	}
}

func (o *Orchestrator) binding(bindingID string) (*TerminalBinding, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	b, ok := o.bindings[bindingID]
	if !ok {
		return nil, notSupported("unknown binding " + bindingID)
	}
	if !b.AcceptsOperations() {
		return nil, unauthorized("binding " + bindingID + " is not active")
	}
	return b, nil
}

// SendText runs PasteGuard before dispatching. On require_confirm without
// prior approval it returns ConfirmationRequired and performs no send;
// retrying with approvalGranted=true succeeds.
func (o *Orchestrator) SendText(ctx context.Context, bindingID, payload string, bracketedPaste bool, maxClipboardBytes int, personaStrict, approvalGranted bool) (Assessment, error) {
	b, err := o.binding(bindingID)
	if err != nil {
		return Assessment{}, err
	}

	assessment := Assess(payload, bracketedPaste, maxClipboardBytes, personaStrict)
	if assessment.Decision != DecisionAllow && !approvalGranted {
		o.appendEvent("termbridge.paste.guard_triggered", map[string]any{"heuristics": assessment.HeuristicsTriggered})
		return assessment, &Error{Kind: KindConfirmationRequired, Msg: "paste requires confirmation"}
	}
	if assessment.Decision == DecisionBlock {
		o.appendEvent("termbridge.paste.guard_triggered", map[string]any{"heuristics": assessment.HeuristicsTriggered})
		return assessment, &Error{Kind: KindUnauthorized, Msg: "paste blocked by policy"}
	}

	adapter := o.adapters[b.TerminalKind]
	if err := adapter.SendText(ctx, b, payload); err != nil {
		return assessment, err
	}
	o.appendEvent("termbridge.send_text", map[string]any{"binding_id": bindingID, "length": len(payload)})
	return assessment, nil
}

// Focus, UpdateCwd, and Close follow the same lookup-then-dispatch shape
// as SendText, each appending its own terminal event.
func (o *Orchestrator) Focus(ctx context.Context, bindingID string) error {
	b, err := o.binding(bindingID)
	if err != nil {
		return err
	}
	if err := o.adapters[b.TerminalKind].Focus(ctx, b); err != nil {
		return err
	}
	o.appendEvent("termbridge.focus", map[string]any{"binding_id": bindingID})
	return nil
}

func (o *Orchestrator) UpdateCwd(ctx context.Context, bindingID, cwd string) error {
	b, err := o.binding(bindingID)
	if err != nil {
		return err
	}
	if err := o.adapters[b.TerminalKind].UpdateCwd(ctx, b, cwd); err != nil {
		return err
	}
	o.appendEvent("cwd.update", map[string]any{"binding_id": bindingID, "cwd": cwd})
	return nil
}

func (o *Orchestrator) Close(ctx context.Context, bindingID string) error {
	b, err := o.binding(bindingID)
	if err != nil {
		return err
	}
	if err := o.adapters[b.TerminalKind].Close(ctx, b); err != nil {
		return err
	}
	if err := b.CloseOrLost(); err != nil {
		return &Error{Kind: KindIo, Msg: err.Error()}
	}
	o.appendEvent("termbridge.close", map[string]any{"binding_id": bindingID})
	return nil
}

// ClipboardRead and ClipboardWrite route OSC 52 clipboard traffic through
// the bound adapter, each gated behind the same AcceptsOperations check as
// SendText.
func (o *Orchestrator) ClipboardRead(ctx context.Context, bindingID, channel string) (string, error) {
	b, err := o.binding(bindingID)
	if err != nil {
		return "", err
	}
	payload, err := o.adapters[b.TerminalKind].ClipboardRead(ctx, b, channel)
	if err != nil {
		return "", err
	}
	o.appendEvent("termbridge.clipboard.read", map[string]any{"binding_id": bindingID, "channel": channel, "length": len(payload)})
	return payload, nil
}

func (o *Orchestrator) ClipboardWrite(ctx context.Context, bindingID, channel, payload string) error {
	b, err := o.binding(bindingID)
	if err != nil {
		return err
	}
	if err := o.adapters[b.TerminalKind].ClipboardWrite(ctx, b, channel, payload); err != nil {
		return err
	}
	o.appendEvent("termbridge.clipboard.write", map[string]any{"binding_id": bindingID, "channel": channel, "length": len(payload)})
	return nil
}

// GrantConsent acknowledges an already-active binding's consent; Spawn
// grants consent as part of its synchronous register/consent/bind
// sequence, so this is the idempotent confirmation half of that flow for
// clients that want an explicit consent round-trip before sending text.
func (o *Orchestrator) GrantConsent(ctx context.Context, bindingID string) error {
	if _, err := o.binding(bindingID); err != nil {
		return err
	}
	o.appendEvent("termbridge.consent.granted", map[string]any{"binding_id": bindingID})
	return nil
}

// RevokeConsent withdraws consent from an active binding, closing it
// through the adapter the same way Close does but recording a distinct
// event kind so a revoked session is distinguishable from a clean close.
func (o *Orchestrator) RevokeConsent(ctx context.Context, bindingID string) error {
	b, err := o.binding(bindingID)
	if err != nil {
		return err
	}
	if err := o.adapters[b.TerminalKind].Close(ctx, b); err != nil {
		return err
	}
	if err := b.CloseOrLost(); err != nil {
		return &Error{Kind: KindIo, Msg: err.Error()}
	}
	o.appendEvent("termbridge.consent.revoked", map[string]any{"binding_id": bindingID})
	return nil
}

func joinReasons(reasons []string) string {
	out := ""
	for i, r := range reasons {
		if i > 0 {
			out += ","
		}
		out += r
	}
	return out
}
