package controllers

import (
	"github.com/gantryci/gantry/server/httpserver/config"
	"github.com/gantryci/gantry/server/httpserver/dispatch"
	"github.com/gantryci/gantry/server/storage/logstore"
	"github.com/sirupsen/logrus"
)

type ControllerConfig struct {
	Conf       *config.Configs
	Dispatcher *dispatch.Dispatcher
	Logs       *logstore.Store
	Version    string
	Logger     *logrus.Entry
}

type Controller struct {
	conf       *config.Configs
	dispatcher *dispatch.Dispatcher
	logs       *logstore.Store
	version    string
	log        *logrus.Entry
}

func NewController(ctrconf *ControllerConfig) *Controller {
	return &Controller{
		conf:       ctrconf.Conf,
		dispatcher: ctrconf.Dispatcher,
		logs:       ctrconf.Logs,
		version:    ctrconf.Version,
		log:        ctrconf.Logger,
	}
}
