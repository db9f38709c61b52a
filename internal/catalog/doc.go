// Package catalog загружает pipelines из YAML-файла.
//
// Формат:
//
//	pipelines:
//	  - id: sales_pipeline
//	    name: Sales Pipeline
//	    params:
//	      - {name: region, type: string, default: eu}
//	    tasks:
//	      - id: fetch_raw_sales_data
//	        kind: http
//	        timeout: 30s
//	        config:
//	          url: "https://example.com/sales?region={{ .Params.region }}"
//	    triggers:
//	      - id: daily
//	        schedule:
//	          kind: interval
//	          interval: {days: 1}
//	          timezone: Europe/Brussels
//	          start_date: "2023-01-01 22:30"
//
// Типы tasks берутся из tasks.Registry. Все проверки (тип task,
// шаблоны, расписания) выполняются при загрузке.
package catalog
