package service

import (
	"fmt"

	"github.com/pkg/errors"
)

var errEmptyCreds = errors.New("api creds empty")

func errHTTP(status int, ae apiError, body []byte) error {
	if ae.Code != 0 || ae.Msg != "" {
		return fmt.Errorf("http %d: code=%d msg=%s", status, ae.Code, ae.Msg)
	}
	return fmt.Errorf("http %d: %s", status, string(body))
}

func errDecode(err error, body []byte) error {
	return errors.Wrapf(err, "decode RAW=%s", string(body))
}
