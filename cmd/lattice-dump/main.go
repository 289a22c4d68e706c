// Command lattice-dump parses one source file and prints the nodes and edges
// the mapper produced. It is a debugging aid for grammar mappings.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/mvp-joe/lattice/internal/ast"
	"github.com/mvp-joe/lattice/internal/parser"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: lattice-dump <file>")
		os.Exit(2)
	}
	path := os.Args[1]

	content, err := os.ReadFile(path)
	if err != nil {
		log.Fatal(err)
	}
	engine, err := parser.NewEngine(parser.Options{})
	if err != nil {
		log.Fatal(err)
	}
	defer engine.Close()

	res, err := engine.Parse(context.Background(), parser.ParseContext{RepoID: "dump", FilePath: path, Content: content})
	if err != nil {
		log.Fatal(err)
	}
	defer res.Tree.Close()

	names := make(map[ast.NodeID]string, len(res.Nodes))
	fmt.Printf("=== NODES (%s) ===\n", res.Language)
	fmt.Printf("Count: %d\n", len(res.Nodes))
	for _, n := range res.Nodes {
		names[n.ID] = fmt.Sprintf("%s %s", n.Kind, n.Name)
		fmt.Printf("  %-12s %-30s lines %d-%d", n.Kind, n.Name, n.Span.StartLine, n.Span.EndLine)
		if n.Signature != "" {
			fmt.Printf("  %s", n.Signature)
		}
		fmt.Println()
	}

	fmt.Println("\n=== EDGES ===")
	fmt.Printf("Count: %d\n", len(res.Edges))
	for _, e := range res.Edges {
		fmt.Printf("  %s -%s-> %s\n", names[e.Source], e.Kind, names[e.Target])
	}
}
