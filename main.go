package main

import "smsconfirm/internal/app"

func main() {
	app.Run()
}
