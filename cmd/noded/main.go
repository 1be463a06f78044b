package main

//go-build: CGO_ENABLED=0

import (
	"flag"

	"github.com/golang/glog"

	"github.com/robotalks/nodecore/pkg/env"
	"github.com/robotalks/nodecore/pkg/framework"
)

func init() {
	env.SetupFlags()
}

func main() {
	flag.Parse()

	conf, err := env.NewConfig()
	if err != nil {
		glog.Fatal(err)
	}
	e := conf.MustNewEnv()
	defer e.Close()

	err = framework.NewRunner().
		HandleSignals().
		Go(framework.NamedRun("node", e)).
		Wait()
	if err != nil {
		glog.Error(err)
	}
	glog.Infof("stopped after %d resets", e.Resets())
}
