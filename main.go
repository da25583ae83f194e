package main

import "clouddoctor/internal/app"

func main() {
	app.Main()
}
