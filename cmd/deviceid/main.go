// deviceid prints the persistent device identifier a desktop client sends as X-Device-ID.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/AnshRaj112/trialguard-backend/pkg/clientid"
)

func main() {
	defaultDir := ".trialguard"
	if home, err := os.UserHomeDir(); err == nil {
		defaultDir = filepath.Join(home, ".trialguard")
	}
	dir := flag.String("dir", defaultDir, "Directory for the identifier stores")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res := clientid.NewResolver(clientid.NewMachineFingerprinter(), clientid.DefaultStores(*dir)...)
	id := res.Resolve(ctx)
	if err := res.Degraded(); err != nil {
		log.Printf("⚠️  identifier resolved in degraded mode (%s): %v", res.Source(), err)
	}
	fmt.Println(id)
}
