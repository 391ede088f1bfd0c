package event

import (
	"testing"

	"github.com/coregraph-labs/hashgraph/author"
	"github.com/coregraph-labs/hashgraph/crypto"
)

func TestTransactionEncodeDecodeRoundTrip(t *testing.T) {
	a := author.Author{0x01, 0x02}
	cases := []Transaction{
		AddAuthor(a, 3),
		RemAuthor(a, 4),
		SignBlock(crypto.Signature{0xaa}),
		SignCheckpoint(crypto.Signature{0xbb}),
		Insert(Key{Prefix: []byte("p"), Key: []byte("k")}, []byte("v")),
		Remove(Key{Prefix: []byte("p"), Key: []byte("k")}),
		CompareAndSwap(Key{Prefix: []byte("p"), Key: []byte("k")}, []byte("old"), true, []byte("new"), true),
		CompareAndSwap(Key{Prefix: []byte("p"), Key: []byte("k")}, nil, false, nil, false),
		AddAuthorToPrefix([]byte("p"), a),
		RemAuthorFromPrefix([]byte("p"), a),
	}
	for i, tx := range cases {
		encoded := tx.Encode()
		decoded, rest, err := DecodeTransaction(encoded)
		if err != nil {
			t.Fatalf("case %d: DecodeTransaction: %v", i, err)
		}
		if len(rest) != 0 {
			t.Fatalf("case %d: leftover bytes after decode: %d", i, len(rest))
		}
		if decoded.Kind != tx.Kind {
			t.Fatalf("case %d: kind mismatch", i)
		}
	}
}

func TestRawEventHashAndVerify(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	raw := RawEvent{
		Payload: []Transaction{Insert(Key{Prefix: []byte("p"), Key: []byte("k")}, []byte("v"))},
		Author:  author.FromPublicKey(kp.Public),
		Time:    1234,
	}
	h := raw.Sign(kp.Private)
	if h != raw.Hash() {
		t.Fatalf("Sign returned a different hash than Hash()")
	}
	got, err := raw.Verify()
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got != h {
		t.Fatalf("Verify returned wrong hash")
	}

	raw.Time = 5678 // tamper after signing
	if _, err := raw.Verify(); err == nil {
		t.Fatalf("Verify accepted a tampered event")
	}
}

func TestRawEventParentFlags(t *testing.T) {
	var r RawEvent
	if r.HasSelfParent() || r.HasOtherParent() {
		t.Fatalf("zero-value RawEvent should report no parents")
	}
	r.SelfHash = crypto.HashBytes([]byte("x"))
	if !r.HasSelfParent() {
		t.Fatalf("expected HasSelfParent true")
	}
}
