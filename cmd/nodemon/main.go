package main

import (
	"flag"
	"log"
	"os"
	"strings"

	"github.com/golang/protobuf/jsonpb"

	"github.com/robotalks/nodecore/pkg/mqtt"
	"github.com/robotalks/nodecore/pkg/status"
)

var (
	mqttURL = "mqtt://localhost:1883/nodecore/?client-id=nodemon"
	pattern = "#"
)

func init() {
	if val := os.Getenv("NODECORE_MQTT_URL"); val != "" {
		mqttURL = val
	}
	flag.StringVar(&mqttURL, "mqtt", mqttURL, "MQTT broker URL.")
	flag.StringVar(&pattern, "topic", pattern, "Topic pattern to watch.")
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds)

	q, err := mqtt.NewQueueFromURL(mqttURL)
	if err != nil {
		log.Fatalln(err)
	}
	if err := q.Connect(); err != nil {
		log.Fatalln(err)
	}
	defer q.Close()

	marshaler := &jsonpb.Marshaler{Indent: "  "}
	q.Sub(pattern, func(topic string, payload []byte) {
		if !strings.HasSuffix(topic, status.TopicStatus) {
			log.Printf("%s: %s", topic, string(payload))
			return
		}
		snapshot, err := status.Unmarshal(payload)
		if err != nil {
			log.Printf("%s: bad snapshot: %v", topic, err)
			return
		}
		out, err := marshaler.MarshalToString(snapshot)
		if err != nil {
			log.Printf("%s: %v", topic, err)
			return
		}
		log.Printf("%s:\n%s", topic, out)
	})
	<-(chan struct{})(nil)
}
