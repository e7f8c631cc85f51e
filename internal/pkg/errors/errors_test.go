package errors

import (
	"errors"
	"testing"
)

func TestHelpersWrapSentinels(t *testing.T) {
	cases := []struct {
		err  error
		want error
		msg  string
	}{
		{Invalid("limit %d must be positive", -1), ErrInvalidArgument, "invalid argument: limit -1 must be positive"},
		{NotFound("blob", "ab/cd"), ErrNotFound, "blob ab/cd: not found"},
		{Unauthorized("token expired"), ErrUnauthorized, "unauthorized: token expired"},
	}
	for _, tc := range cases {
		if !errors.Is(tc.err, tc.want) {
			t.Fatalf("%v does not wrap %v", tc.err, tc.want)
		}
		if tc.err.Error() != tc.msg {
			t.Fatalf("message = %q, want %q", tc.err.Error(), tc.msg)
		}
	}
}
