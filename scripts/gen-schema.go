//go:build ignore

package main

import (
	"fmt"
	"os"

	"github.com/ormasoftchile/radrun/pkg/schema"
)

func main() {
	data, err := schema.GenerateJSONSchema()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile("schemas/scenario-v1.json", data, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "write: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("wrote schemas/scenario-v1.json")

	profileData, err := schema.GenerateProfileJSONSchema()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error generating profile schema: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile("schemas/profile-v1.json", profileData, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "write: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("wrote schemas/profile-v1.json")
}
