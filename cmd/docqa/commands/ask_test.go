package commands

import "testing"

func Test_JoinQuestion(t *testing.T) {
	t.Parallel()
	cases := []struct {
		args []string
		want string
	}{
		{[]string{"what is the refund policy?"}, "what is the refund policy?"},
		{[]string{"what", "is", "the", "refund", "policy?"}, "what is the refund policy?"},
	}
	for _, c := range cases {
		if got := joinQuestion(c.args); got != c.want {
			t.Errorf("joinQuestion(%v) = %q, want %q", c.args, got, c.want)
		}
	}
}
