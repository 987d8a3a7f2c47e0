// Command test-publish is a manual test for the MQTT side of the bridge.
// It publishes a fake cook to the broker, one probe reading per second,
// so dashboards can be checked without a thermometer.
//
// Usage:
//
//	go run ./cmd/test-publish [--broker tcp://host:1883] [--prefix bbq] [--count 5]
package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/chaz8081/ibbq-mqtt/internal/publish"
)

func main() {
	broker := flag.String("broker", "tcp://192.168.42.100:1883", "MQTT broker URL")
	prefix := flag.String("prefix", "bbq", "topic prefix")
	count := flag.Int("count", 5, "number of readings per probe")
	flag.Parse()

	pub, err := publish.NewMQTTPublisher(publish.MQTTOptions{BrokerURL: *broker})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	if err := pub.Connect(); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer pub.Close()

	fmt.Printf("Publishing to %s as %s\n", *broker, pub.ClientID())

	for i := 0; i < *count; i++ {
		// Probe 1 climbs, probe 2 holds.
		readings := map[string]int{
			fmt.Sprintf("%s/temperature/1", *prefix): 20 + i*5,
			fmt.Sprintf("%s/temperature/2", *prefix): 110,
			*prefix + "/battery":                     100 - i,
		}
		for topic, value := range readings {
			if err := pub.Publish(topic, value); err != nil {
				fmt.Printf("Error: %v\n", err)
				return
			}
			fmt.Printf("%s = %d\n", topic, value)
		}
		time.Sleep(time.Second)
	}

	fmt.Println("\nDone!")
}
