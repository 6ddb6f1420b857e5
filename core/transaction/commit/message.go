package commit

import (
	"encoding/json"
	"fmt"
)

// Message is one of the coordination payloads exchanged between nodes.
// The set is closed: every kind is listed here and handled exhaustively
// in Engine.HandleMessage, so adding a kind is a compile-time-checked
// change. Delivery may be duplicated or reordered; every handler is
// idempotent.
type Message interface {
	Kind() string
	isMessage()
}

// Prepare asks a participant to durably prepare a transaction.
type Prepare struct {
	Txn          TransactionID `json:"txn"`
	Coordinator  NodeID        `json:"coordinator"`
	Participants []NodeID      `json:"participants"`
	// Items are the data items this participant owns for the transaction.
	Items []string `json:"items"`
}

// Prepared is a participant's vote on a Prepare.
type Prepared struct {
	Txn     TransactionID `json:"txn"`
	Node    NodeID        `json:"node"`
	Success bool          `json:"success"`
	Reason  string        `json:"reason,omitempty"`
}

// PreCommit tells a prepared participant that everyone voted yes (3PC
// only). A participant holding a PreCommit may advance unilaterally if
// the coordinator goes silent.
type PreCommit struct {
	Txn         TransactionID `json:"txn"`
	Coordinator NodeID        `json:"coordinator"`
}

// Commit tells a participant to commit locally.
type Commit struct {
	Txn         TransactionID `json:"txn"`
	Coordinator NodeID        `json:"coordinator"`
}

// Abort tells a participant to roll back locally.
type Abort struct {
	Txn         TransactionID `json:"txn"`
	Coordinator NodeID        `json:"coordinator"`
	Reason      string        `json:"reason"`
}

// Acknowledged confirms a PreCommit, Commit or Abort. Phase routes the
// acknowledgment to the right wait.
type Acknowledged struct {
	Txn   TransactionID `json:"txn"`
	Node  NodeID        `json:"node"`
	Phase Phase         `json:"phase"`
}

// Election announces a candidacy for coordinator in a given term.
type Election struct {
	Candidate NodeID `json:"candidate"`
	Term      uint64 `json:"term"`
}

// Vote is a ballot for a candidate in a given term, sent directly to
// that candidate.
type Vote struct {
	Voter     NodeID `json:"voter"`
	Candidate NodeID `json:"candidate"`
	Term      uint64 `json:"term"`
}

// Heartbeat refreshes the current coordinator on receivers.
type Heartbeat struct {
	Coordinator NodeID `json:"coordinator"`
	Term        uint64 `json:"term"`
}

// PaxosPrepare opens a Paxos round for a transaction's outcome.
type PaxosPrepare struct {
	Txn      TransactionID `json:"txn"`
	Proposer NodeID        `json:"proposer"`
	N        uint64        `json:"n"`
}

// PaxosPromise is an acceptor's answer to PaxosPrepare. A rejected
// prepare (Promised=false) carries the higher number seen; an accepted
// one carries any previously accepted outcome, which the proposer must
// adopt.
type PaxosPromise struct {
	Txn             TransactionID `json:"txn"`
	Node            NodeID        `json:"node"`
	N               uint64        `json:"n"`
	Promised        bool          `json:"promised"`
	AcceptedN       uint64        `json:"accepted_n,omitempty"`
	AcceptedOutcome Outcome       `json:"accepted_outcome,omitempty"`
}

// PaxosAccept asks acceptors to accept an outcome under proposal N.
type PaxosAccept struct {
	Txn      TransactionID `json:"txn"`
	Proposer NodeID        `json:"proposer"`
	N        uint64        `json:"n"`
	Outcome  Outcome       `json:"outcome"`
}

// PaxosAccepted reports whether the acceptor accepted proposal N.
type PaxosAccepted struct {
	Txn  TransactionID `json:"txn"`
	Node NodeID        `json:"node"`
	N    uint64        `json:"n"`
	Ok   bool          `json:"ok"`
}

// PaxosLearn broadcasts the chosen outcome to all participants.
type PaxosLearn struct {
	Txn     TransactionID `json:"txn"`
	Outcome Outcome       `json:"outcome"`
}

// Phase tags which wait an Acknowledged settles.
type Phase string

const (
	PhasePreCommit Phase = "precommit"
	PhaseCommit    Phase = "commit"
	PhaseAbort     Phase = "abort"
)

// Outcome is the value decided by a Paxos commit round.
type Outcome string

const (
	OutcomeCommit Outcome = "commit"
	OutcomeAbort  Outcome = "abort"
)

func (Prepare) Kind() string       { return "prepare" }
func (Prepared) Kind() string      { return "prepared" }
func (PreCommit) Kind() string     { return "pre_commit" }
func (Commit) Kind() string        { return "commit" }
func (Abort) Kind() string         { return "abort" }
func (Acknowledged) Kind() string  { return "acknowledged" }
func (Election) Kind() string      { return "election" }
func (Vote) Kind() string          { return "vote" }
func (Heartbeat) Kind() string     { return "heartbeat" }
func (PaxosPrepare) Kind() string  { return "paxos_prepare" }
func (PaxosPromise) Kind() string  { return "paxos_promise" }
func (PaxosAccept) Kind() string   { return "paxos_accept" }
func (PaxosAccepted) Kind() string { return "paxos_accepted" }
func (PaxosLearn) Kind() string    { return "paxos_learn" }

func (Prepare) isMessage()       {}
func (Prepared) isMessage()      {}
func (PreCommit) isMessage()     {}
func (Commit) isMessage()        {}
func (Abort) isMessage()         {}
func (Acknowledged) isMessage()  {}
func (Election) isMessage()      {}
func (Vote) isMessage()          {}
func (Heartbeat) isMessage()     {}
func (PaxosPrepare) isMessage()  {}
func (PaxosPromise) isMessage()  {}
func (PaxosAccept) isMessage()   {}
func (PaxosAccepted) isMessage() {}
func (PaxosLearn) isMessage()    {}

// envelope is the wire form of a Message: kind tag plus JSON payload.
type envelope struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// EncodeMessage marshals a message into its tagged wire form.
func EncodeMessage(msg Message) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", msg.Kind(), err)
	}
	return json.Marshal(envelope{Kind: msg.Kind(), Payload: payload})
}

// DecodeMessage unmarshals a tagged wire form back into a Message.
func DecodeMessage(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message envelope: %w", err)
	}

	var msg Message
	switch env.Kind {
	case "prepare":
		msg = &Prepare{}
	case "prepared":
		msg = &Prepared{}
	case "pre_commit":
		msg = &PreCommit{}
	case "commit":
		msg = &Commit{}
	case "abort":
		msg = &Abort{}
	case "acknowledged":
		msg = &Acknowledged{}
	case "election":
		msg = &Election{}
	case "vote":
		msg = &Vote{}
	case "heartbeat":
		msg = &Heartbeat{}
	case "paxos_prepare":
		msg = &PaxosPrepare{}
	case "paxos_promise":
		msg = &PaxosPromise{}
	case "paxos_accept":
		msg = &PaxosAccept{}
	case "paxos_accepted":
		msg = &PaxosAccepted{}
	case "paxos_learn":
		msg = &PaxosLearn{}
	default:
		return nil, fmt.Errorf("%w: unknown message kind %q", ErrInvalidArgument, env.Kind)
	}

	if err := json.Unmarshal(env.Payload, msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s payload: %w", env.Kind, err)
	}
	return deref(msg), nil
}

// deref returns the value form so type switches on concrete structs work
// for both locally constructed and decoded messages.
func deref(msg Message) Message {
	switch m := msg.(type) {
	case *Prepare:
		return *m
	case *Prepared:
		return *m
	case *PreCommit:
		return *m
	case *Commit:
		return *m
	case *Abort:
		return *m
	case *Acknowledged:
		return *m
	case *Election:
		return *m
	case *Vote:
		return *m
	case *Heartbeat:
		return *m
	case *PaxosPrepare:
		return *m
	case *PaxosPromise:
		return *m
	case *PaxosAccept:
		return *m
	case *PaxosAccepted:
		return *m
	case *PaxosLearn:
		return *m
	default:
		return msg
	}
}
