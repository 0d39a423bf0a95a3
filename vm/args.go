package vm

import "fmt"

// CreateStackArgs copies the program name and the NULL-terminated argv
// array found at argvAddr in the caller's space onto the top of this
// space's stack, laid out as a C main expects. A zero argvAddr or a nil
// caller passes the name alone. At most MaxArgs strings are copied, the name
// included. It returns the new stack pointer.
func (s *AddrSpace) CreateStackArgs(
	argvAddr int,
	name string,
	caller *AddrSpace,
) (int, error) {
	cfg := s.mem.Config()
	args := []string{name}

	if caller != nil && argvAddr != 0 {
		for i := 0; len(args) < cfg.MaxArgs; i++ {
			ptr, err := caller.ReadWord(argvAddr + 4*i)
			if err != nil {
				return -1, err
			}

			if ptr == 0 {
				break
			}

			arg, err := caller.ReadString(ptr)
			if err != nil {
				return -1, err
			}

			args = append(args, arg)
		}
	}

	stack := s.stackTop
	ptrs := make([]int, len(args))

	for i, arg := range args {
		stack -= len(arg) + 1
		if err := s.WriteString(stack, arg); err != nil {
			return -1, fmt.Errorf("argument %d: %w", i, err)
		}

		ptrs[i] = stack
	}

	argc := len(args)
	stack -= argc*4 + 4
	stack &^= 3

	for i, p := range ptrs {
		if err := s.WriteWord(stack+4*i, p); err != nil {
			return -1, err
		}
	}

	if err := s.WriteWord(stack+4*argc, 0); err != nil {
		return -1, err
	}

	s.argc = argc
	s.argv = stack
	s.stackTop = stack - 8

	return s.stackTop, nil
}
