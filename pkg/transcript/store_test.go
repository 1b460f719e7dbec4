package transcript

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStoreAppendKeepsInsertionOrder(t *testing.T) {
	s := NewStore()
	s.Append(UserTurn("hi"))
	s.Append(AssistantTurn("hello"))
	s.Append(UserTurn("how are you?"))

	require.Equal(t, 3, s.Len())
	require.Equal(t, []Turn{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello"},
		{Role: RoleUser, Content: "how are you?"},
	}, s.All())
}

func TestStoreAllReturnsCopy(t *testing.T) {
	s := NewStore()
	s.Append(UserTurn("original"))

	turns := s.All()
	turns[0].Content = "changed"

	require.Equal(t, "original", s.All()[0].Content)
}

func TestStoreAllIsIdempotent(t *testing.T) {
	s := NewStore()
	s.Append(UserTurn("a"))
	s.Append(AssistantTurn("b"))

	require.Equal(t, s.All(), s.All())
}

func TestStoreObserverSeesEveryAppend(t *testing.T) {
	var seen []int
	var roles []Role
	s := NewStore(WithObserver(func(index int, turn Turn) {
		seen = append(seen, index)
		roles = append(roles, turn.Role)
	}))

	s.Append(UserTurn("q"))
	s.Append(AssistantTurn("a"))

	require.Equal(t, []int{0, 1}, seen)
	require.Equal(t, []Role{RoleUser, RoleAssistant}, roles)
}

func TestStoreAllIsFrontToBack(t *testing.T) {
	s := NewStore()
	require.Empty(t, s.All())

	s.Append(UserTurn("q1"))
	s.Append(AssistantTurn("a1"))
	s.Append(UserTurn("q2"))

	all := s.All()
	require.Len(t, all, 3)
	require.Equal(t, "q2", all[len(all)-1].Content)
	require.Equal(t, RoleAssistant, all[1].Role)
}
