// Package fsm is the dialog state machine shape: named states, named events
// and the table of allowed transitions between them.
package fsm

import (
	"errors"
	"fmt"
	"sort"
)

type State string

type Event string

const (
	StateMenu                 State = "MENU"
	StateLoginHandle          State = "LOGIN_HANDLE"
	StateLoginSecret          State = "LOGIN_SECRET"
	StatePasswordRecovery     State = "PASSWORD_RECOVERY"
	StatePurchaseFirstName    State = "PURCHASE_FIRST_NAME"
	StatePurchaseLastName     State = "PURCHASE_LAST_NAME"
	StatePurchaseEmail        State = "PURCHASE_EMAIL"
	StatePurchasePhone        State = "PURCHASE_PHONE"
	StatePurchasePayment      State = "PURCHASE_PAYMENT"
	StateAwaitingArtifact     State = "AWAITING_ARTIFACT"
	StateAwaitingConfirmation State = "AWAITING_CONFIRMATION"
	StateAwaitingImageAction  State = "AWAITING_IMAGE_ACTION"
)

const (
	EventReset             Event = "reset"
	EventStartLogin        Event = "start_login"
	EventHandleEntered     Event = "handle_entered"
	EventLoginSucceeded    Event = "login_succeeded"
	EventLoginFailed       Event = "login_failed"
	EventForgotSecret      Event = "forgot_secret"
	EventRecoverySubmitted Event = "recovery_submitted"
	EventStartPurchase     Event = "start_purchase"
	EventFieldAccepted     Event = "field_accepted"
	EventFieldRejected     Event = "field_rejected"
	EventCapabilityGranted Event = "capability_granted"
	EventArtifactRejected  Event = "artifact_rejected"
	EventNeedsConfirmation Event = "needs_confirmation"
	EventImageExtracted    Event = "image_extracted"
	EventAnalysisReady     Event = "analysis_ready"
	EventCompletedSingle   Event = "completed_single"
	EventCompletedContinue Event = "completed_continue"
	EventStageFailed       Event = "stage_failed"
)

var ErrUnknownState = errors.New("unknown state")

// PurchaseFields is the fixed order of the purchase intake form.
var PurchaseFields = []State{
	StatePurchaseFirstName,
	StatePurchaseLastName,
	StatePurchaseEmail,
	StatePurchasePhone,
	StatePurchasePayment,
}

var awaiting = []State{StateAwaitingArtifact, StateAwaitingConfirmation, StateAwaitingImageAction}

type edge struct {
	from  State
	event Event
}

var table = buildTable()

func buildTable() map[edge]State {
	rows := []struct {
		from  State
		event Event
		to    State
	}{
		{StateMenu, EventStartLogin, StateLoginHandle},
		{StateMenu, EventStartPurchase, StatePurchaseFirstName},
		{StateMenu, EventForgotSecret, StatePasswordRecovery},
		{StateMenu, EventCapabilityGranted, StateAwaitingArtifact},

		{StateLoginHandle, EventHandleEntered, StateLoginSecret},
		{StateLoginHandle, EventForgotSecret, StatePasswordRecovery},
		{StateLoginSecret, EventLoginSucceeded, StateMenu},
		{StateLoginSecret, EventLoginFailed, StateMenu},
		{StateLoginSecret, EventForgotSecret, StatePasswordRecovery},

		{StatePasswordRecovery, EventRecoverySubmitted, StateMenu},

		{StatePurchasePayment, EventFieldAccepted, StateMenu},

		{StateAwaitingArtifact, EventCapabilityGranted, StateAwaitingArtifact},
		{StateAwaitingArtifact, EventArtifactRejected, StateAwaitingArtifact},
		{StateAwaitingArtifact, EventNeedsConfirmation, StateAwaitingConfirmation},
		{StateAwaitingArtifact, EventImageExtracted, StateAwaitingImageAction},
		{StateAwaitingArtifact, EventCompletedContinue, StateAwaitingArtifact},

		{StateAwaitingConfirmation, EventCompletedContinue, StateAwaitingArtifact},

		{StateAwaitingImageAction, EventCapabilityGranted, StateAwaitingArtifact},
		{StateAwaitingImageAction, EventArtifactRejected, StateAwaitingImageAction},
		{StateAwaitingImageAction, EventImageExtracted, StateAwaitingImageAction},
		{StateAwaitingImageAction, EventAnalysisReady, StateAwaitingImageAction},
		{StateAwaitingImageAction, EventCompletedContinue, StateAwaitingImageAction},
	}
	t := make(map[edge]State, len(rows))
	for _, r := range rows {
		t[edge{r.from, r.event}] = r.to
	}
	for i, field := range PurchaseFields {
		t[edge{field, EventFieldRejected}] = field
		if i+1 < len(PurchaseFields) {
			t[edge{field, EventFieldAccepted}] = PurchaseFields[i+1]
		}
	}
	for _, s := range awaiting {
		t[edge{s, EventCompletedSingle}] = StateMenu
		t[edge{s, EventStageFailed}] = StateMenu
	}
	return t
}

// States lists every known state in a stable order.
func States() []State {
	set := map[State]struct{}{StateMenu: {}}
	for e, to := range table {
		set[e.from] = struct{}{}
		set[to] = struct{}{}
	}
	out := make([]State, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

var knownStates = func() map[State]bool {
	m := make(map[State]bool)
	for _, s := range States() {
		m[s] = true
	}
	return m
}()

// Transition returns the state reached from current on event. Reset is
// accepted from every known state.
func Transition(current State, event Event) (State, error) {
	if !knownStates[current] {
		return current, fmt.Errorf("%w %q", ErrUnknownState, current)
	}
	if event == EventReset {
		return StateMenu, nil
	}
	next, ok := table[edge{current, event}]
	if !ok {
		return current, invalidTransition(current, event)
	}
	return next, nil
}

// Allowed lists the events current accepts, sorted.
func Allowed(current State) []Event {
	events := []Event{EventReset}
	for e := range table {
		if e.from == current {
			events = append(events, e.event)
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i] < events[j] })
	return events
}

// IsPurchaseField reports whether s collects a purchase form field.
func IsPurchaseField(s State) bool {
	for _, f := range PurchaseFields {
		if f == s {
			return true
		}
	}
	return false
}

// IsAwaiting reports whether s waits on content for a capability.
func IsAwaiting(s State) bool {
	for _, a := range awaiting {
		if a == s {
			return true
		}
	}
	return false
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
