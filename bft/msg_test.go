package bft

import (
	"testing"

	"github.com/canopy-network/dbft/lib"
	"github.com/canopy-network/dbft/lib/crypto"
	"github.com/stretchr/testify/require"
)

func TestPayloadEncoding(t *testing.T) {
	key, err := crypto.NewEd25519PrivateKey()
	require.NoError(t, err)
	tests := []struct {
		name   string
		detail string
		msg    Message
	}{
		{
			name:   "prepare request",
			detail: "a proposal with two transactions",
			msg: &PrepareRequest{
				Version:   lib.BlockVersion,
				PrevHash:  crypto.Hash([]byte("parent")),
				Timestamp: 1_700_000_000_000,
				Nonce:     7,
				TxHashes:  []lib.HexBytes{crypto.Hash([]byte("a")), crypto.Hash([]byte("b"))},
			},
		},
		{name: "prepare response", detail: "an endorsement", msg: &PrepareResponse{PreparationHash: crypto.Hash([]byte("request"))}},
		{name: "commit", detail: "a header signature", msg: &Commit{Signature: []byte("signature")}},
		{name: "change view", detail: "a vote to leave the view", msg: &ChangeView{Timestamp: 5, Reason: ReasonTxNotFound}},
		{name: "recovery request", detail: "a request for the round state", msg: &RecoveryRequest{Timestamp: 9}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			p := signed(key, 3, testHeight, 2, test.msg)
			got, err := NewPayloadFromBytes(p.Bytes())
			require.NoError(t, err)
			require.Equal(t, p.SignBytes(), got.SignBytes())
			require.Equal(t, p.Hash(), got.Hash())
			require.True(t, key.PublicKey().VerifyBytes(got.SignBytes(), got.Witness))
			msg, err := got.Message()
			require.NoError(t, err)
			require.Equal(t, test.msg, msg)
		})
	}
}

func TestSignBytesExcludeWitness(t *testing.T) {
	p := NewPayload(testMagic, testHeight, 0, 1, &Commit{Signature: []byte("sig")})
	unsigned := p.SignBytes()
	p.Witness = []byte("witness")
	require.Equal(t, unsigned, p.SignBytes())
	require.NotEqual(t, unsigned, p.Bytes())
	// every other field is covered
	p.ViewNumber = 1
	require.NotEqual(t, unsigned, p.SignBytes())
}

func TestMalformedMessages(t *testing.T) {
	tests := []struct {
		name   string
		detail string
		t      MessageType
		data   []byte
	}{
		{name: "unknown type", detail: "0x99 isn't a message type", t: MessageType(0x99), data: nil},
		{name: "short preparation hash", detail: "a preparation hash must be 32 bytes", t: MsgPrepareResponse, data: (&PrepareResponse{PreparationHash: []byte{1}}).Bytes()},
		{name: "short prev hash", detail: "a proposal must name its 32 byte parent", t: MsgPrepareRequest, data: (&PrepareRequest{PrevHash: []byte{1}}).Bytes()},
		{name: "garbage", detail: "bytes that aren't a protobuf message", t: MsgCommit, data: []byte{0xFF, 0xFF, 0xFF}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := DecodeMessage(test.t, test.data)
			require.Error(t, err)
			require.True(t, lib.IsProtocolViolation(err))
		})
	}
}

func TestNewViewNumber(t *testing.T) {
	next, err := NewViewNumber(&Payload{ViewNumber: 4})
	require.NoError(t, err)
	require.Equal(t, uint8(5), next)
	_, err = NewViewNumber(&Payload{ViewNumber: 255})
	require.Error(t, err)
	require.Equal(t, lib.CodeViewOverflow, err.Code())
}

func TestRecoveryMessageEncoding(t *testing.T) {
	var keys []crypto.PrivateKeyI
	for i := 0; i < 4; i++ {
		k, err := crypto.NewEd25519PrivateKey()
		require.NoError(t, err)
		keys = append(keys, k)
	}
	request := &PrepareRequest{Version: lib.BlockVersion, PrevHash: crypto.Hash([]byte("parent")), Timestamp: 1, Nonce: 2}
	requestPayload := signed(keys[3], 3, testHeight, 1, request)
	response := signed(keys[1], 1, testHeight, 1, &PrepareResponse{PreparationHash: requestPayload.Hash()})
	changeView := signed(keys[2], 2, testHeight, 0, &ChangeView{Timestamp: 3, Reason: ReasonTimeout})
	commit := signed(keys[1], 1, testHeight, 1, &Commit{Signature: []byte("sig")})
	cv, err := CompactChangeView(changeView)
	require.NoError(t, err)
	cc, err := CompactCommit(commit)
	require.NoError(t, err)
	rm := &RecoveryMessage{
		ChangeViews:    []*ChangeViewCompact{cv},
		PrepareRequest: request,
		Preparations: []*PreparationCompact{
			{ValidatorIndex: 3, Witness: requestPayload.Witness},
			{ValidatorIndex: 1, Witness: response.Witness},
		},
		Commits: []*CommitCompact{cc},
	}
	rp := signed(keys[0], 0, testHeight, 1, rm)
	got, err := NewPayloadFromBytes(rp.Bytes())
	require.NoError(t, err)
	msg, err := got.Message()
	require.NoError(t, err)
	decoded := msg.(*RecoveryMessage)
	// every embedded payload is rebuilt byte for byte, so the original witnesses still verify
	changeViews := decoded.ChangeViewPayloads(got)
	require.Len(t, changeViews, 1)
	require.Equal(t, changeView.Bytes(), changeViews[0].Bytes())
	rebuiltRequest := decoded.PrepareRequestPayload(got, 3)
	require.NotNil(t, rebuiltRequest)
	require.Equal(t, requestPayload.Bytes(), rebuiltRequest.Bytes())
	responses := decoded.PrepareResponsePayloads(got, 3)
	require.Len(t, responses, 1)
	require.Equal(t, response.Bytes(), responses[0].Bytes())
	commits := decoded.CommitPayloads(got)
	require.Len(t, commits, 1)
	require.Equal(t, commit.Bytes(), commits[0].Bytes())
	// without the primary's preparation the request can't be rebuilt
	require.Nil(t, decoded.PrepareRequestPayload(got, 2))
	// with only the preparation hash the responses are still rebuilt
	hashOnly := &RecoveryMessage{PreparationHash: requestPayload.Hash(), Preparations: []*PreparationCompact{{ValidatorIndex: 1, Witness: response.Witness}}}
	require.Equal(t, response.Bytes(), hashOnly.PrepareResponsePayloads(got, 3)[0].Bytes())
}
