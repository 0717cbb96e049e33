//go:build !linux && !darwin

package local

import "github.com/marmos91/tenantfs/pkg/meta"

func getXattr(string, string) ([]byte, error) { return nil, meta.ErrNotSupported }

func setXattr(string, string, []byte) error { return meta.ErrNotSupported }

func removeXattr(string, string) error { return meta.ErrNotSupported }
