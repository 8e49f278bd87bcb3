package main

import (
    "fmt"
    "os"

    "github.com/joho/godotenv"

    "github.com/zaqqye/relay/internal/cli"
)

func main() {
    // Load .env (non-fatal if missing in production)
    _ = godotenv.Load()

    if err := cli.Run(os.Args[1:]); err != nil {
        fmt.Fprintln(os.Stderr, err)
        os.Exit(1)
    }
}
