package tenant

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScopeKey(t *testing.T) {
	assert.Equal(t, "user:u1|org:", Scope{UserID: "u1"}.Key())
	assert.Equal(t, "user:u1|org:o1", Scope{UserID: "u1", OrganizationID: "o1"}.Key())
	assert.NotEqual(t, Scope{UserID: "u1"}.Key(), Scope{UserID: "u1", OrganizationID: "o1"}.Key())
}

func TestScopeKey_Injective(t *testing.T) {
	pairs := [][2]Scope{
		{{UserID: "u9"}, {UserID: "u9", OrganizationID: "-"}},
		{{UserID: "a|org:b"}, {UserID: "a", OrganizationID: "b|org:-"}},
		{{UserID: "a|org:b"}, {UserID: "a", OrganizationID: "b"}},
		{{UserID: "a:b"}, {UserID: "a", OrganizationID: ":b"}},
		{{UserID: "u1%7C"}, {UserID: "u1|"}},
	}
	for _, p := range pairs {
		assert.NotEqual(t, p[0].Key(), p[1].Key(), "%+v vs %+v", p[0], p[1])
	}
}

func TestScopeKey_EscapesDelimitersAndGlobs(t *testing.T) {
	k := Scope{UserID: "*", OrganizationID: "o[1]?:|"}.Key()
	assert.Equal(t, "user:%2A|org:o%5B1%5D%3F%3A%7C", k)
}

func TestFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	_, err := FromRequest(r)
	assert.ErrorIs(t, err, ErrMissingTenant)

	r.Header.Set(HeaderUserID, "  u1 ")
	r.Header.Set(HeaderOrganizationID, "o1")
	s, err := FromRequest(r)
	assert.NoError(t, err)
	assert.Equal(t, Scope{UserID: "u1", OrganizationID: "o1"}, s)
}

func TestContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	ctx := WithScope(context.Background(), Scope{UserID: "u1"})
	s, ok := FromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "u1", s.UserID)
}
