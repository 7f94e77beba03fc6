package main

// opcodelint checks that the wire-opcode dispatch tables a server builds
// at startup are internally consistent (the stored procedure registry is
// not checked): every opcode the protocol defines has a handler on the
// master (rw) table, and the replica (ro) table is a strict subset
// restricted to non-mutating opcodes, per spec.md §4.10's ErrNonMaster
// rule. It is a static check run against a throwaway in-memory server,
// not a runtime tool.

import (
	"context"
	"fmt"
	"os"

	"nexusdb/core"
)

var allOpcodes = []core.Opcode{
	core.OpInsert,
	core.OpSelect,
	core.OpUpdate,
	core.OpDeleteLegacy,
	core.OpDelete,
	core.OpCall,
	core.OpPing,
}

var mutatingOpcodes = map[core.Opcode]bool{
	core.OpInsert:       true,
	core.OpUpdate:       true,
	core.OpDelete:       true,
	core.OpDeleteLegacy: true,
}

func main() {
	if err := lint(); err != nil {
		fmt.Fprintln(os.Stderr, "opcodelint:", err)
		os.Exit(1)
	}
	fmt.Println("opcodelint: ok")
}

func lint() error {
	dir, err := os.MkdirTemp("", "opcodelint-wal")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)
	snapDir, err := os.MkdirTemp("", "opcodelint-snap")
	if err != nil {
		return err
	}
	defer os.RemoveAll(snapDir)

	srv, err := core.NewServer(core.Config{WalDir: dir, SnapshotDir: snapDir})
	if err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	defer srv.Close()
	ctx := context.Background()

	srv.SetReadOnly(false)
	rwMissing := checkCoverage(ctx, srv, allOpcodes)
	if len(rwMissing) > 0 {
		return fmt.Errorf("master table missing handlers for opcodes: %v", rwMissing)
	}

	srv.SetReadOnly(true)
	for _, op := range allOpcodes {
		_, err := core.Dispatch(ctx, srv, op, nil)
		isRegistered := err == nil || !isUnsupported(err)
		if mutatingOpcodes[op] && isRegistered {
			return fmt.Errorf("replica table must not serve mutating opcode %d", op)
		}
	}
	return nil
}

func checkCoverage(ctx context.Context, srv *core.Server, ops []core.Opcode) []core.Opcode {
	var missing []core.Opcode
	for _, op := range ops {
		_, err := core.Dispatch(ctx, srv, op, nil)
		if isUnsupported(err) {
			missing = append(missing, op)
		}
	}
	return missing
}

func isUnsupported(err error) bool {
	pe, ok := err.(*core.ProtoError)
	return ok && pe.Ordinal == core.ErrUnsupported
}
