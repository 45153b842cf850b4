// Command shmrpc-debug reports the real usable write capacity of one
// internal/fifo.Fifo ring and its single-process write/read throughput.
// Adapted from the teacher's debug_capacity.go, which asked the same
// question ("what's the actual usable space, once compaction and the
// header both take their share?") of a grpc-go-shmem ShmRing instead.
package main

import (
	"fmt"
	"log"
	"time"

	"github.com/POZAlabs/lmms/internal/fifo"
	"github.com/POZAlabs/lmms/internal/ipc"
)

func main() {
	alloc := ipc.NewKeyAllocator(9000)

	w, key, err := fifo.Create(alloc, 0)
	if err != nil {
		log.Fatalf("fifo.Create: %v", err)
	}
	defer w.Close()

	r, err := fifo.Attach(key)
	if err != nil {
		log.Fatalf("fifo.Attach: %v", err)
	}
	defer r.Close()

	fmt.Printf("=== Ring Capacity ===\n")
	fmt.Printf("configured capacity: %d bytes\n", w.Capacity())

	fmt.Printf("\n=== Single Write/Read Round Trips ===\n")
	sizes := []int{10, 20, 30, 40, 50, 100, 200, 500, 1000, 5000, 10000, 32768, 65000}
	for _, size := range sizes {
		data := make([]byte, size)
		for i := range data {
			data[i] = byte(i % 256)
		}
		if size > w.Capacity() {
			fmt.Printf("size %7d bytes: SKIP (exceeds capacity)\n", size)
			continue
		}
		if _, err := w.Write(data); err != nil {
			fmt.Printf("size %7d bytes: FAIL (%v)\n", size, err)
			continue
		}
		readBack := make([]byte, size)
		if _, err := r.Read(readBack); err != nil {
			fmt.Printf("size %7d bytes: read FAIL (%v)\n", size, err)
			continue
		}
		fmt.Printf("size %7d bytes: OK\n", size)
	}

	fmt.Printf("\n=== Throughput (1000 x 1000-byte messages) ===\n")
	const (
		chunkSize = 1000
		chunks    = 1000
	)
	done := make(chan struct{})
	go func() {
		buf := make([]byte, chunkSize)
		for i := 0; i < chunks; i++ {
			r.Read(buf)
		}
		close(done)
	}()

	start := time.Now()
	chunk := make([]byte, chunkSize)
	for i := 0; i < chunks; i++ {
		if _, err := w.Write(chunk); err != nil {
			log.Fatalf("write %d: %v", i, err)
		}
	}
	<-done
	elapsed := time.Since(start)
	totalBytes := chunkSize * chunks
	fmt.Printf("wrote+drained %d bytes in %s (%.1f MB/s)\n",
		totalBytes, elapsed, float64(totalBytes)/elapsed.Seconds()/(1<<20))
}
