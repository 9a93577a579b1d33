package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/exec"
	"time"

	"signal-quota-service/internal/core/ports"
	"signal-quota-service/internal/signals"

	grpcadapter "signal-quota-service/internal/grpc"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	httpBase = "http://localhost:8090"
	owner    = "verify_owner"
)

func main() {
	// 1. Start Server with a small quota so eviction is easy to trigger
	log.Println("Starting server...")
	cmd := exec.Command("./server",
		"--node_id", "test_node",
		"--raft_addr", "127.0.0.1:12000",
		"--http_addr", ":8090",
		"--grpc_addr", ":50055",
		"--bootstrap",
		"--raft_dir", "raft_verify_test",
		"--soft_limit_bytes", "100",
		"--hard_limit_bytes", "150",
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
	defer func() {
		_ = cmd.Process.Kill()
		_ = os.RemoveAll("raft_verify_test")
	}()

	// Wait for startup and leader election
	time.Sleep(3 * time.Second)

	// 2. HTTP
	log.Println("Testing HTTP API...")
	res, err := httpUpdate(owner, putPayload("http_key", "http_val"))
	if err != nil {
		log.Fatalf("HTTP update failed: %v", err)
	}
	if res.Kept != 1 {
		log.Fatalf("HTTP update: expected 1 kept signal, got %d", res.Kept)
	}
	xs, err := httpSignals(owner)
	if err != nil {
		log.Fatalf("HTTP list failed: %v", err)
	}
	if len(xs) != 1 || string(xs[0].Value) != "http_val" {
		log.Fatalf("HTTP list mismatch: %+v", xs)
	}
	log.Println("HTTP API verified")

	// 3. gRPC
	log.Println("Testing gRPC API...")
	conn, err := grpc.NewClient("localhost:50055", grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("Failed to connect to gRPC: %v", err)
	}
	defer conn.Close()

	client := grpcadapter.NewClient(conn)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.UpdateSignals(ctx, owner, "verify", putPayload("grpc_key", "grpc_val")); err != nil {
		log.Fatalf("gRPC update failed: %v", err)
	}
	xs, err = client.GetSignals(ctx, owner)
	if err != nil {
		log.Fatalf("gRPC get failed: %v", err)
	}
	if len(xs) != 2 {
		log.Fatalf("gRPC get: expected 2 signals, got %d", len(xs))
	}
	log.Println("gRPC API verified")

	// 4. Quota enforcement: twelve 20-byte signals overflow the 150 byte ceiling
	log.Println("Testing quota enforcement...")
	puts := make(map[string]string)
	for i := 0; i < 12; i++ {
		puts[b64(fmt.Sprintf("key-%04d", i))] = b64(fmt.Sprintf("value-%06d", i))
	}
	payload, err := json.Marshal(map[string]any{"put": puts})
	if err != nil {
		log.Fatalf("encode payload: %v", err)
	}
	res, err = client.UpdateSignals(ctx, owner, "verify", payload)
	if err != nil {
		log.Fatalf("gRPC quota update failed: %v", err)
	}
	if res.Evicted == 0 || res.TotalBytes > 100 {
		log.Fatalf("quota not enforced: %+v", res)
	}
	xs, err = httpSignals(owner)
	if err != nil {
		log.Fatalf("HTTP list failed: %v", err)
	}
	if got := signals.TotalSize(xs); got != res.TotalBytes {
		log.Fatalf("stored size %d does not match reported %d", got, res.TotalBytes)
	}
	for _, x := range xs {
		if string(x.Key) == "http_key" || string(x.Key) == "grpc_key" {
			log.Fatalf("oldest signal %q survived eviction", x.Key)
		}
	}
	log.Println("Quota enforcement verified")
}

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func putPayload(key, value string) []byte {
	return []byte(fmt.Sprintf(`{"put": {%q: %q}}`, b64(key), b64(value)))
}

func httpUpdate(owner string, payload []byte) (*ports.UpdateResult, error) {
	url := fmt.Sprintf("%s/v1/signals/update?owner=%s&package=verify", httpBase, owner)
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("status code %d: %s", resp.StatusCode, b)
	}
	var res ports.UpdateResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, err
	}
	return &res, nil
}

func httpSignals(owner string) ([]signals.Signal, error) {
	resp, err := http.Get(fmt.Sprintf("%s/v1/signals?owner=%s", httpBase, owner))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status code %d", resp.StatusCode)
	}
	var xs []signals.Signal
	if err := json.NewDecoder(resp.Body).Decode(&xs); err != nil {
		return nil, err
	}
	return xs, nil
}
