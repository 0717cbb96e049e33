//go:build linux || darwin

package local

import (
	"errors"
	"fmt"

	"github.com/marmos91/tenantfs/pkg/meta"
	"golang.org/x/sys/unix"
)

func mapXattrErr(err error) error {
	switch {
	case errors.Is(err, unix.ENOTSUP), errors.Is(err, unix.EOPNOTSUPP):
		return meta.ErrNotSupported
	case errors.Is(err, errnoNoAttr):
		return errNoAttr
	case errors.Is(err, unix.ENOENT):
		return ErrNotFound
	}
	return err
}

func getXattr(path, name string) ([]byte, error) {
	size, err := unix.Getxattr(path, name, nil)
	if err != nil {
		return nil, mapXattrErr(err)
	}
	buf := make([]byte, size)
	n, err := unix.Getxattr(path, name, buf)
	if err != nil {
		return nil, mapXattrErr(err)
	}
	return buf[:n], nil
}

func setXattr(path, name string, value []byte) error {
	if err := unix.Setxattr(path, name, value, 0); err != nil {
		return fmt.Errorf("setxattr %s: %w", name, mapXattrErr(err))
	}
	return nil
}

func removeXattr(path, name string) error {
	if err := unix.Removexattr(path, name); err != nil {
		return mapXattrErr(err)
	}
	return nil
}
