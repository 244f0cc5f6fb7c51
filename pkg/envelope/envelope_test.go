package envelope

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mixnetlabs/obscuratr/pkg/event"
	"github.com/mixnetlabs/obscuratr/pkg/filter"
	"github.com/mixnetlabs/obscuratr/pkg/filters"
)

func TestParseEventEnvelope(t *testing.T) {
	raw := []byte(`["EVENT","sub1",{"id":"abc","pubkey":"def",` +
		`"created_at":1700000000,"kind":1,"tags":[["p","xyz"]],` +
		`"content":"hello","sig":"00"}]`)
	v := ParseMessage(raw)
	require.NotNil(t, v)
	env, ok := v.(*Event)
	require.True(t, ok)
	require.Equal(t, "sub1", env.SubscriptionID)
	require.Equal(t, "abc", env.T.ID)
	require.Equal(t, "hello", env.T.Content)
	require.Equal(t, 1, env.T.Kind)
	require.Equal(t, []string{"xyz"}, env.T.Tags.GetAll("p"))
}

func TestParseEoseAndNotice(t *testing.T) {
	v := ParseMessage([]byte(`["EOSE","sub1"]`))
	eose, ok := v.(*Eose)
	require.True(t, ok)
	require.Equal(t, "sub1", string(*eose))

	v = ParseMessage([]byte(`["NOTICE","rate limited"]`))
	notice, ok := v.(*Notice)
	require.True(t, ok)
	require.Equal(t, "rate limited", string(*notice))
}

func TestParseOK(t *testing.T) {
	v := ParseMessage([]byte(`["OK","abc",true,""]`))
	okEnv, ok := v.(*OK)
	require.True(t, ok)
	require.Equal(t, "abc", okEnv.EventID)
	require.True(t, okEnv.OK)

	v = ParseMessage([]byte(`["OK","abc",false,"blocked: spam"]`))
	okEnv, ok = v.(*OK)
	require.True(t, ok)
	require.False(t, okEnv.OK)
	require.Equal(t, "blocked: spam", okEnv.Reason)
}

func TestParseGarbage(t *testing.T) {
	require.Nil(t, ParseMessage(nil))
	require.Nil(t, ParseMessage([]byte(`not json`)))
	require.Nil(t, ParseMessage([]byte(`["AUTH","challenge"]`)))
	require.Nil(t, ParseMessage([]byte(`["EVENT"]`)))
}

func TestReqMarshal(t *testing.T) {
	req := Req{
		SubscriptionID: "sub1",
		Filters: filters.T{
			{Authors: []string{"alice"}, Limit: 10},
			{Kinds: []int{1}},
		},
	}
	j, err := req.MarshalJSON()
	require.NoError(t, err)
	require.JSONEq(t,
		`["REQ","sub1",{"authors":["alice"],"limit":10},{"kinds":[1]}]`,
		string(j))
}

func TestReqMarshalTagFilter(t *testing.T) {
	req := Req{
		SubscriptionID: "sub1",
		Filters: filters.T{
			{Tags: filter.TagMap{"p": {"target"}}},
		},
	}
	j, err := req.MarshalJSON()
	require.NoError(t, err)
	require.JSONEq(t, `["REQ","sub1",{"#p":["target"]}]`, string(j))
}

func TestCloseMarshal(t *testing.T) {
	c := Close("sub1")
	j, err := c.MarshalJSON()
	require.NoError(t, err)
	require.Equal(t, `["CLOSE","sub1"]`, string(j))
}

func TestEventMarshalOutbound(t *testing.T) {
	env := Event{T: event.T{
		ID: "abc", PubKey: "def", CreatedAt: 1700000000,
		Kind: 1, Content: "hi", Sig: "00",
	}}
	j, err := env.MarshalJSON()
	require.NoError(t, err)
	require.JSONEq(t,
		`["EVENT",{"id":"abc","pubkey":"def","created_at":1700000000,`+
			`"kind":1,"tags":null,"content":"hi","sig":"00"}]`,
		string(j))
}
