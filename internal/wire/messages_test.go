package wire

import "testing"

func TestEncodeDecodeRoundTripsDiffReq(t *testing.T) {
	original := &DiffReq{
		Epoch: 7,
		Queries: []DiffQuery{
			{Path: "a/b.txt", Hash: 123},
			{Path: "", Hash: 0},
		},
	}

	decoded, err := Decode(original.Type(), Encode(original))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got, ok := decoded.(*DiffReq)
	if !ok {
		t.Fatalf("expected *DiffReq, got %T", decoded)
	}
	if got.Epoch != original.Epoch || len(got.Queries) != len(original.Queries) {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, original)
	}
	for i := range original.Queries {
		if got.Queries[i] != original.Queries[i] {
			t.Fatalf("query %d mismatch: %+v vs %+v", i, got.Queries[i], original.Queries[i])
		}
	}
}

func TestEncodeDecodeRoundTripsInfoResp(t *testing.T) {
	original := &InfoResp{Payloads: []InfoPayload{
		{InstanceID: "replica-1", Status: "ok", FilesIndexed: 42, Hash: 9999},
	}}

	decoded, err := Decode(original.Type(), Encode(original))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got := decoded.(*InfoResp)
	if len(got.Payloads) != 1 || got.Payloads[0] != original.Payloads[0] {
		t.Fatalf("round trip mismatch: %+v vs %+v", got.Payloads, original.Payloads)
	}
}

func TestEncodeDecodeRoundTripsEmptyMessages(t *testing.T) {
	messages := []Message{&SyncEstablishReq{}, &FullsyncCmd{}, &FlushCmd{}, &LogResp{}}
	for _, m := range messages {
		decoded, err := Decode(m.Type(), Encode(m))
		if err != nil {
			t.Fatalf("Decode(%T): %v", m, err)
		}
		if decoded.Type() != m.Type() {
			t.Fatalf("Decode(%T) returned type %v, want %v", m, decoded.Type(), m.Type())
		}
	}
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	if _, err := Decode(Type(255), nil); err == nil {
		t.Fatal("expected an error decoding an unknown message type")
	}
}

func TestDecodeRejectsTooManyDiffQueries(t *testing.T) {
	req := &DiffReq{Epoch: 1}
	for i := 0; i < MaxDiffQueries+1; i++ {
		req.Queries = append(req.Queries, DiffQuery{Path: "x"})
	}
	if _, err := Decode(req.Type(), Encode(req)); err == nil {
		t.Fatal("expected an error decoding a DIFF_REQ over MaxDiffQueries")
	}
}

func TestPolicyPlanRoundTrip(t *testing.T) {
	original := &XfrEstablishReq{Plan: PolicyPlan{
		File:  PolicyFile{Path: "dir/file.txt", Target: "", Kind: KindFile},
		Steps: PlanStep{Host: "replica-1", Children: []PlanStep{{Host: "replica-2"}}},
	}}

	decoded, err := Decode(original.Type(), Encode(original))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got := decoded.(*XfrEstablishReq)
	if got.Plan.File != original.Plan.File {
		t.Fatalf("file mismatch: %+v vs %+v", got.Plan.File, original.Plan.File)
	}
	if got.Plan.Steps.Host != "replica-1" || len(got.Plan.Steps.Children) != 1 ||
		got.Plan.Steps.Children[0].Host != "replica-2" {
		t.Fatalf("steps mismatch: %+v", got.Plan.Steps)
	}
}
