package transcode

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/TiunovNN/video-compression-model/model"
)

func TestEncodeArgsSuccess(t *testing.T) {
	args := encodeArgs(
		"https://bucket.example/source/abc.mp4?sig=1",
		&model.Prediction{Status: model.StatusSuccess, Parameter: "crf", Value: 21},
		"/tmp/encoded-1.mp4",
	)
	require.Equal(t, strings.Fields(
		"-seekable 1 -reconnect_delay_max 300 -multiple_requests 1"+
			" -reconnect_on_http_error 429,5xx -reconnect_on_network_error 1"+
			" -i https://bucket.example/source/abc.mp4?sig=1"+
			" -c:v libx265 -preset veryslow -crf 21"+
			" -codec:a copy -sn -y -hide_banner -loglevel error /tmp/encoded-1.mp4",
	), args)
}

func TestEncodeArgsQP(t *testing.T) {
	args := paramArgs(&model.Prediction{Status: model.StatusSuccess, Parameter: "qp", Value: 33})
	require.Equal(t, []string{"-c:v", "libx265", "-preset", "veryslow", "-qp", "33"}, args)
}

func TestEncodeArgsFallbackStatusKeepsPrediction(t *testing.T) {
	// success_fallback already carries crf 16 as its prediction value.
	args := paramArgs(&model.Prediction{Status: model.StatusFallback, Parameter: "crf", Value: model.FallbackCRF})
	require.Equal(t, []string{"-c:v", "libx265", "-preset", "veryslow", "-crf", "16"}, args)
}

func TestEncodeArgsDegradeWithoutPrediction(t *testing.T) {
	require.Equal(t,
		[]string{"-c:v", "libx265", "-preset", "veryslow", "-crf", "16"},
		paramArgs(nil))
	require.Equal(t,
		[]string{"-c:v", "libx265", "-preset", "veryslow", "-crf", "16"},
		paramArgs(&model.Prediction{Status: model.StatusFailed, Parameter: "qp", Value: 30}))
}
