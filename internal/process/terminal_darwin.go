package process

import "golang.org/x/sys/unix"

const termiosGet = unix.TIOCGETA
