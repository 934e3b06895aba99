package main

import "github.com/eleven-am/product-lens/internal/bootstrap"

func main() {
	bootstrap.Run()
}
