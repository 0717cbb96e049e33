package local

import "golang.org/x/sys/unix"

const errnoNoAttr = unix.ENOATTR
