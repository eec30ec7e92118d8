package videoapi

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fairyhunter13/ai-video-pipeline/internal/domain"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		msg  string
		want domain.RemoteErrorCode
	}{
		{"Server under heavy load, please retry", domain.RemoteHeavyLoad},
		{"heavy_load", domain.RemoteHeavyLoad},
		{"Too many concurrent tasks for this account", domain.RemoteTooManyTasks},
		{"too many pending tasks", domain.RemoteTooManyTasks},
		{"Phone number required for verification", domain.RemotePhoneRequired},
		{"quota exceeded", domain.RemoteNoCredits},
		{"not enough credits", domain.RemoteNoCredits},
		{"Unauthorized", domain.RemoteUnauthorized},
		{"invalid token", domain.RemoteUnauthorized},
		{"HTTP 401", domain.RemoteUnauthorized},
		{"connection reset by peer", domain.RemoteTransient},
		{"", domain.RemoteTransient},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.msg), "msg=%q", tc.msg)
	}
}
